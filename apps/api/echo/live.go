package echoapi

import (
	"fmt"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/docstore"
	"github.com/azardenmark/dashboard-sub000/core/school"
)

// liveScopes maps the collections that can be watched to the field tying them to a kindergarten.
var liveScopes = map[string]string{
	school.KindergartensCollection: "id",
	school.BranchesCollection:      "parentId",
	school.ClassesCollection:       "kindergartenId",
	school.StudentsCollection:      "kindergartenId",
	school.TeachersCollection:      "kindergartenId",
	school.DriversCollection:       "kindergartenId",
}

type liveFrame struct {
	Collection string          `json:"collection"`
	Docs       []docstore.Data `json:"docs"`
}

// live streams the kindergarten's documents of ?collection= (classes by default) as server-sent
// events: the full result once, then again after every write touching the collection.
func (api *schoolAPI) live(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	id := ctx.Param("id")
	if _, err := api.svc.GetKindergarten(reqCtx, id); err != nil {
		return errors.Wrap(err, "getting kindergarten")
	}

	coll := ctx.QueryParam("collection")
	if coll == "" {
		coll = school.ClassesCollection
	}
	field, ok := liveScopes[coll]
	if !ok {
		return core.NewValidationError(nil, core.FieldError{Field: "collection", Error: "collection cannot be watched"})
	}

	frames := make(chan liveFrame, 1)
	q := docstore.Collection(coll).Where(field, docstore.OpEqual, id)
	sub, err := api.svc.Store().Subscribe(reqCtx, q, func(snaps []*docstore.Snapshot) {
		frame := liveFrame{Collection: coll, Docs: make([]docstore.Data, 0, len(snaps))}
		for _, snap := range snaps {
			frame.Docs = append(frame.Docs, snap.Data)
		}
		// keep only the latest result when the client lags behind
		select {
		case <-frames:
		default:
		}
		frames <- frame
	})
	if err != nil {
		return errors.Wrap(err, "subscribing")
	}
	defer func() {
		if err := sub.Stop(); err != nil {
			api.logger.Warn("stopping live query", err)
		}
	}()

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	for {
		select {
		case <-reqCtx.Done():
			return nil
		case frame := <-frames:
			data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(frame)
			if err != nil {
				return errors.Wrap(err, "encoding live frame")
			}
			if _, err := fmt.Fprintf(res, "event: snapshot\ndata: %s\n\n", data); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}
