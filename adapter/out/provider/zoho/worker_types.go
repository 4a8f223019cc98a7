package zoho

import (
	"bytes"
	"html"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"mail_worker/core/domain"

	"github.com/goccy/go-json"
	"github.com/jaytaylor/html2text"
)

// apiStatus is the status block of every Zoho Mail response.
type apiStatus struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

// envelope wraps every response body.
type envelope struct {
	Status apiStatus       `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type apiErrorData struct {
	ErrorCode string `json:"errorCode"`
	MoreInfo  string `json:"moreInfo"`
}

// flexInt accepts both JSON numbers and numeric strings, which the API mixes.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// flexBool accepts true/false, "true"/"false" and "0"/"1".
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	switch strings.ToLower(string(bytes.Trim(b, `"`))) {
	case "true", "1", "yes":
		*f = true
	default:
		*f = false
	}
	return nil
}

type mailAccount struct {
	AccountID           flexInt `json:"accountId"`
	PrimaryEmailAddress string  `json:"primaryEmailAddress"`
	MailboxAddress      string  `json:"mailboxAddress"`
	EmailAddress        []struct {
		MailID    string   `json:"mailId"`
		IsPrimary flexBool `json:"isPrimary"`
	} `json:"emailAddress"`
	AccountDisplayName string `json:"accountDisplayName"`
}

func (a *mailAccount) matches(addr string) bool {
	addr = domain.NormalizeAddress(addr)
	if domain.NormalizeAddress(a.PrimaryEmailAddress) == addr || domain.NormalizeAddress(a.MailboxAddress) == addr {
		return true
	}
	for _, e := range a.EmailAddress {
		if domain.NormalizeAddress(e.MailID) == addr {
			return true
		}
	}
	return false
}

type folder struct {
	FolderID     flexInt `json:"folderId"`
	FolderName   string  `json:"folderName"`
	FolderType   string  `json:"folderType"`
	Path         string  `json:"path"`
	UnreadCount  flexInt `json:"unreadCount"`
	MessageCount flexInt `json:"messageCount"`
	TotalCount   flexInt `json:"totalCount"`
}

func (f *folder) toDTO() domain.FolderDTO {
	total := int(f.MessageCount)
	if f.TotalCount > 0 {
		total = int(f.TotalCount)
	}
	return domain.FolderDTO{
		FolderID:    strconv.FormatInt(int64(f.FolderID), 10),
		Name:        f.FolderName,
		Path:        f.Path,
		Type:        f.FolderType,
		TotalCount:  total,
		UnreadCount: int(f.UnreadCount),
	}
}

// message is a listing entry; detail calls reuse it for the content payload.
type message struct {
	MessageID     string   `json:"messageId"`
	ThreadID      string   `json:"threadId"`
	FolderID      string   `json:"folderId"`
	Subject       string   `json:"subject"`
	FromAddress   string   `json:"fromAddress"`
	Sender        string   `json:"sender"`
	ToAddress     string   `json:"toAddress"`
	CcAddress     string   `json:"ccAddress"`
	SentDateInGMT flexInt  `json:"sentDateInGMT"`
	SentTime      flexInt  `json:"sentTime"`
	ReceivedTime  flexInt  `json:"receivedTime"`
	Status        string   `json:"status"`
	Status2       string   `json:"status2"`
	IsUnread      *bool    `json:"isUnread,omitempty"`
	FlagID        string   `json:"flagid"`
	Priority      flexInt  `json:"priority"`
	HasAttachment flexBool `json:"hasAttachment"`
	Summary       string   `json:"summary"`
	Content       string   `json:"content"`
	HTMLContent   string   `json:"htmlContent"`
}

func (m *message) read() bool {
	if m.IsUnread != nil {
		return !*m.IsUnread
	}
	// status "1" = read, "0" = unread
	switch strings.ToUpper(m.Status) {
	case "1", "READ":
		return true
	}
	return false
}

func (m *message) toDTO() domain.MessageDTO {
	dto := domain.MessageDTO{
		MessageID:     m.MessageID,
		ThreadID:      m.ThreadID,
		FolderID:      m.FolderID,
		Subject:       html.UnescapeString(m.Subject),
		FromEmail:     firstAddress(m.FromAddress),
		FromName:      html.UnescapeString(m.Sender),
		To:            parseAddresses(m.ToAddress),
		Cc:            parseAddresses(m.CcAddress),
		IsRead:        m.read(),
		IsStarred:     m.FlagID != "" && m.FlagID != "flag_not_set",
		IsImportant:   m.Priority > 0 && m.Priority <= 2,
		HasAttachment: bool(m.HasAttachment),
		ReceivedAt:    millis(int64(m.ReceivedTime)),
	}
	sentMs := int64(m.SentDateInGMT)
	if sentMs <= 0 {
		sentMs = int64(m.SentTime)
	}
	if sentMs > 0 {
		sent := millis(sentMs)
		dto.SentAt = &sent
	}
	if dto.ReceivedAt.IsZero() && dto.SentAt != nil {
		dto.ReceivedAt = *dto.SentAt
	}

	dto.BodyHTML = m.HTMLContent
	dto.BodyText = m.Content
	if dto.BodyText == "" {
		dto.BodyText = m.Summary
	}
	// listing "content" is HTML for most folders
	if dto.BodyHTML == "" && looksLikeHTML(dto.BodyText) {
		dto.BodyHTML = dto.BodyText
		dto.BodyText = htmlToText(dto.BodyHTML)
	}
	return dto
}

type messageContent struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type attachment struct {
	AttachmentID   string  `json:"attachmentId"`
	AttachmentName string  `json:"attachmentName"`
	AttachmentSize flexInt `json:"attachmentSize"`
	AttachmentType string  `json:"attachmentType"`
}

type attachmentInfo struct {
	Attachments []attachment `json:"attachments"`
}

type sendRequest struct {
	FromAddress string                `json:"fromAddress"`
	ToAddress   string                `json:"toAddress"`
	CcAddress   string                `json:"ccAddress,omitempty"`
	BccAddress  string                `json:"bccAddress,omitempty"`
	Subject     string                `json:"subject"`
	Content     string                `json:"content"`
	MailFormat  string                `json:"mailFormat,omitempty"`
	Attachments []attachmentReference `json:"attachments,omitempty"`
}

type attachmentReference struct {
	StoreName      string `json:"storeName"`
	AttachmentName string `json:"attachmentName"`
	AttachmentPath string `json:"attachmentPath"`
}

type sentMessage struct {
	MessageID string `json:"messageId"`
}

func millis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// parseAddresses handles the API's comma separated, sometimes HTML-escaped
// address lists ("Name" <a@x.com>, b@y.com).
func parseAddresses(s string) []string {
	s = strings.TrimSpace(html.UnescapeString(s))
	if s == "" || s == "Not Provided" {
		return nil
	}
	if list, err := mail.ParseAddressList(s); err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			out = append(out, domain.NormalizeAddress(a.Address))
		}
		return out
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if i := strings.LastIndex(part, "<"); i >= 0 {
			part = strings.TrimSuffix(part[i+1:], ">")
		}
		if part = domain.NormalizeAddress(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstAddress(s string) string {
	if list := parseAddresses(s); len(list) > 0 {
		return list[0]
	}
	return domain.NormalizeAddress(s)
}

func looksLikeHTML(s string) bool {
	i := strings.Index(s, "<")
	return i >= 0 && strings.Contains(s[i:], ">")
}

func htmlToText(s string) string {
	text, err := html2text.FromString(s, html2text.Options{OmitLinks: true})
	if err != nil {
		return s
	}
	return text
}
