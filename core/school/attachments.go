package school

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/azardenmark/dashboard-sub000/core/blobstore"
	"github.com/azardenmark/dashboard-sub000/core/docstore"
)

// Attachment categories, one per person kind that carries files.
const (
	CategoryCertificates = "certificates"
	CategoryLicenses     = "licenses"
)

var ErrAttachmentCategory = errors.New("attachments are teacher certificates or driver licenses")

// attachmentTarget returns the collection and array field holding the attachments of kind/category.
func attachmentTarget(kind PersonKind, category string) (string, error) {
	switch {
	case kind == KindTeacher && category == CategoryCertificates:
		return TeachersCollection, nil
	case kind == KindDriver && category == CategoryLicenses:
		return DriversCollection, nil
	}
	return "", validationErr(ErrAttachmentCategory, "category")
}

type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// UploadAttachment stores the file under `{kind}/{id}/{category}/{millis}_{filename}` and appends
// it to the person's attachments.
func (svc *Service) UploadAttachment(ctx context.Context, kind PersonKind, id, category string, up Upload) (Attachment, error) {
	coll, err := attachmentTarget(kind, category)
	if err != nil {
		return Attachment{}, err
	}
	if svc.blobs == nil {
		return Attachment{}, errors.New("no blob store configured")
	}
	notFound := ErrTeacherNotFound
	if kind == KindDriver {
		notFound = ErrDriverNotFound
	}
	if _, err := svc.store.Get(ctx, coll, id); err != nil {
		if docstore.IsNotFound(err) {
			return Attachment{}, notFoundErr(notFound, coll, id)
		}
		return Attachment{}, errors.Wrapf(err, "getting %s/%s", coll, id)
	}

	now := NowFunc().UTC()
	key := blobstore.ObjectPath(string(kind), id, category, now, up.Filename)
	info, err := svc.blobs.Put(ctx, key, up.Body, blobstore.PutOptions{
		ContentType: up.ContentType,
		Metadata:    map[string]string{"owner": id, "category": category},
	})
	if err != nil {
		return Attachment{}, errors.Wrap(err, "uploading attachment")
	}

	att := Attachment{Path: key, URL: info.URL, Name: up.Filename, UploadedAt: now}
	data, err := docstore.Encode(att)
	if err != nil {
		return Attachment{}, err
	}
	err = svc.store.Batch().Update(coll, id, docstore.Data{
		category:       docstore.ArrayUnion(data),
		FieldUpdatedAt: docstore.ServerTimestamp,
	}).Commit(ctx)
	if err != nil {
		svc.removeBlobs(ctx, []Attachment{att})
		return Attachment{}, errors.Wrap(err, "recording attachment")
	}
	return att, nil
}

// DeleteAttachment removes the attachment stored at path from the person, then deletes the blob.
func (svc *Service) DeleteAttachment(ctx context.Context, kind PersonKind, id, category, path string) error {
	coll, err := attachmentTarget(kind, category)
	if err != nil {
		return err
	}
	var atts []Attachment
	switch kind {
	case KindTeacher:
		t, err := svc.GetTeacher(ctx, id)
		if err != nil {
			return err
		}
		atts = t.Certificates
	default:
		d, err := svc.GetDriver(ctx, id)
		if err != nil {
			return err
		}
		atts = d.Licenses
	}

	kept := make([]Attachment, 0, len(atts))
	var removed []Attachment
	for _, a := range atts {
		if a.Path == path {
			removed = append(removed, a)
			continue
		}
		kept = append(kept, a)
	}
	if len(removed) == 0 {
		return notFoundErr(ErrAttachmentNotFound, coll, path)
	}
	err = svc.store.Batch().Update(coll, id, docstore.Data{
		category:       kept,
		FieldUpdatedAt: docstore.ServerTimestamp,
	}).Commit(ctx)
	if err != nil {
		return errors.Wrap(err, "removing attachment")
	}
	svc.removeBlobs(ctx, removed)
	return nil
}

// removeBlobs deletes the blobs of atts; failures are logged only.
func (svc *Service) removeBlobs(ctx context.Context, atts []Attachment) {
	if svc.blobs == nil {
		return
	}
	for _, a := range atts {
		if _, err := svc.blobs.Delete(ctx, a.Path); err != nil {
			svc.logger.Warn("deleting blob", errors.Wrap(err, a.Path))
		}
	}
}
