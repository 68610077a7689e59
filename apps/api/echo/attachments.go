package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/school"
)

const attachmentFormField = "file"

// uploadAttachment stores the multipart file field "file" as an attachment of the person.
func (api *schoolAPI) uploadAttachment(kind school.PersonKind, category string) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		fh, err := ctx.FormFile(attachmentFormField)
		if err != nil {
			return core.NewValidationError(err, core.FieldError{Field: attachmentFormField, Error: "a file is required"})
		}
		f, err := fh.Open()
		if err != nil {
			return errors.Wrap(err, "opening uploaded file")
		}
		defer f.Close()

		att, err := api.svc.UploadAttachment(ctx.Request().Context(), kind, ctx.Param("id"), category, school.Upload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get(echo.HeaderContentType),
			Body:        f,
		})
		return respond(ctx, http.StatusCreated, att, err, "uploading attachment")
	}
}

// deleteAttachment removes the attachment whose storage path is given by ?path=.
func (api *schoolAPI) deleteAttachment(kind school.PersonKind, category string) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		path := ctx.QueryParam("path")
		if path == "" {
			return core.NewValidationError(nil, core.FieldError{Field: "path", Error: "path is a required field"})
		}
		err := api.svc.DeleteAttachment(ctx.Request().Context(), kind, ctx.Param("id"), category, path)
		return respond(ctx, http.StatusNoContent, nil, err, "deleting attachment")
	}
}
