package http

import (
	"bytes"
	"mime"
	"strings"

	"mail_worker/core/domain"
	"mail_worker/core/port/in"
	"mail_worker/pkg/apperr"
	"mail_worker/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// maxAttachmentSize is the upload cap for a single attachment.
const maxAttachmentSize = 20 << 20

type EmailHandler struct {
	mailService in.MailService
}

func NewMailHandler(mailService in.MailService) *EmailHandler {
	return &EmailHandler{mailService: mailService}
}

func (h *EmailHandler) Register(r fiber.Router) {
	r.Post("/accounts/:id/messages", h.Send)
	r.Post("/accounts/:id/attachments", h.UploadAttachment)

	emails := r.Group("/emails")
	emails.Delete("/:id", h.Delete)
	emails.Get("/:id/attachments", h.ListAttachments)
	emails.Get("/:id/attachments/:attachmentId", h.DownloadAttachment)
}

// Send sends a message from account :id (0 = default account).
func (h *EmailHandler) Send(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	accountID, err := accountParam(c)
	if err != nil {
		return err
	}

	var req domain.SendRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	sent, err := h.mailService.SendMessage(c.Context(), userID, accountID, &req)
	if err != nil {
		return mapError(err, accountID)
	}
	return response.Created(c, sent)
}

// UploadAttachment stores a raw body (or multipart "file") with the provider
// and returns the reference to pass in SendRequest.Attachments.
func (h *EmailHandler) UploadAttachment(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	accountID, err := accountParam(c)
	if err != nil {
		return err
	}

	name := c.Query("fileName")
	var data []byte
	if fh, ferr := c.FormFile("file"); ferr == nil {
		if fh.Size > maxAttachmentSize {
			return apperr.InvalidInput("file", "attachment too large")
		}
		f, err := fh.Open()
		if err != nil {
			return apperr.BadRequest("cannot read upload")
		}
		defer f.Close()
		if name == "" {
			name = fh.Filename
		}
		uploaded, err := h.mailService.UploadAttachment(c.Context(), userID, accountID, name, f)
		if err != nil {
			return mapError(err, accountID)
		}
		return response.Created(c, uploaded)
	}

	data = c.Body()
	if len(data) == 0 {
		return apperr.MissingField("body")
	}
	if len(data) > maxAttachmentSize {
		return apperr.InvalidInput("body", "attachment too large")
	}
	if name == "" {
		return apperr.MissingField("fileName")
	}
	uploaded, err := h.mailService.UploadAttachment(c.Context(), userID, accountID, name, bytes.NewReader(data))
	if err != nil {
		return mapError(err, accountID)
	}
	return response.Created(c, uploaded)
}

func (h *EmailHandler) ListAttachments(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	emailID, err := ParamID(c, "id")
	if err != nil {
		return err
	}

	atts, err := h.mailService.ListAttachments(c.Context(), userID, emailID)
	if err != nil {
		return mapError(err, 0)
	}
	return response.OK(c, atts)
}

func (h *EmailHandler) DownloadAttachment(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	emailID, err := ParamID(c, "id")
	if err != nil {
		return err
	}
	attachmentID := c.Params("attachmentId")
	if attachmentID == "" {
		return apperr.MissingField("attachmentId")
	}

	data, err := h.mailService.DownloadAttachment(c.Context(), userID, emailID, attachmentID)
	if err != nil {
		return mapError(err, 0)
	}

	name := c.Query("name", attachmentID)
	c.Set(fiber.HeaderContentType, contentTypeFor(name))
	c.Set(fiber.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	return c.Send(data)
}

func (h *EmailHandler) Delete(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	emailID, err := ParamID(c, "id")
	if err != nil {
		return err
	}
	if err := h.mailService.DeleteEmail(c.Context(), userID, emailID); err != nil {
		return mapError(err, 0)
	}
	return response.NoContent(c)
}

// accountParam parses :id allowing 0 for the default account.
func accountParam(c *fiber.Ctx) (int64, error) {
	if c.Params("id") == "0" || c.Params("id") == "default" {
		return 0, nil
	}
	return ParamID(c, "id")
}

func contentTypeFor(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		if ct := mime.TypeByExtension(name[i:]); ct != "" {
			return ct
		}
	}
	return fiber.MIMEOctetStream
}
