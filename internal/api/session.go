package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/vidcap/internal/api/models"
	"github.com/smazurov/vidcap/internal/pipeline"
	"github.com/smazurov/vidcap/internal/session"
)

// snapshotWait bounds how long a wait=true snapshot waits for a frame.
var snapshotWait = 2 * time.Second

// sessionError maps controller errors onto HTTP status codes.
func sessionError(err error) error {
	var se *session.Error
	if !errors.As(err, &se) {
		return huma.Error500InternalServerError("session operation failed", err)
	}
	switch se.Kind {
	case session.KindDeviceUnavailable:
		return huma.Error404NotFound(se.Message, err)
	case session.KindBuildFailed:
		return huma.Error422UnprocessableEntity(se.Message, err)
	case session.KindBusy:
		return huma.Error409Conflict(se.Message, err)
	case session.KindRuntimeAborted, session.KindDeviceLost:
		return huma.Error503ServiceUnavailable(se.Message, err)
	default:
		return huma.Error500InternalServerError(se.Message, err)
	}
}

func (s *Server) sessionResponse() *models.SessionResponse {
	return &models.SessionResponse{Body: models.SessionFromStatus(s.session.Status())}
}

// sessionAction registers a body-less POST or DELETE that runs op and
// returns the resulting session.
func (s *Server) sessionAction(id, method, path, summary, description string, op func(context.Context) error) {
	huma.Register(s.api, huma.Operation{
		OperationID: id,
		Method:      method,
		Path:        path,
		Summary:     summary,
		Description: description,
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 409, 422, 503},
	}, func(ctx context.Context, _ *struct{}) (*models.SessionResponse, error) {
		if err := op(ctx); err != nil {
			return nil, sessionError(err)
		}
		return s.sessionResponse(), nil
	})
}

func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List Devices",
		Description: "Enumerate capture devices in catalog order",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 500},
	}, func(ctx context.Context, _ *struct{}) (*models.DeviceListResponse, error) {
		list, err := s.session.ListDevices(ctx)
		if err != nil {
			return nil, sessionError(err)
		}
		activeID := ""
		if st := s.session.Status(); st.Device != nil {
			activeID = st.Device.ID
		}
		out := make([]models.DeviceData, 0, len(list))
		for _, d := range list {
			out = append(out, models.DeviceFromDescriptor(d, activeID))
		}
		return &models.DeviceListResponse{
			Body: models.DeviceListData{Devices: out, Count: len(out)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/session",
		Summary:     "Get Session",
		Description: "Current controller state, active device and format",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.SessionResponse, error) {
		return s.sessionResponse(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "select-device",
		Method:      http.MethodPost,
		Path:        "/api/session/device",
		Summary:     "Select Device",
		Description: "Make a device active and start previewing it",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 409, 422, 503},
	}, func(ctx context.Context, input *models.SelectDeviceRequest) (*models.SessionResponse, error) {
		if err := s.session.SelectDeviceByID(ctx, input.Body.DeviceID); err != nil {
			return nil, sessionError(err)
		}
		return s.sessionResponse(), nil
	})

	s.sessionAction("start-preview", http.MethodPost, "/api/session/preview/start",
		"Start Preview", "Run the built pipeline", s.session.StartPreview)
	s.sessionAction("stop-preview", http.MethodPost, "/api/session/preview/stop",
		"Stop Preview", "Stop the running pipeline, keeping it built", s.session.StopPreview)
	s.sessionAction("rebuild", http.MethodPost, "/api/session/rebuild",
		"Rebuild", "Build and run the pipeline for the active device", s.session.Rebuild)
	s.sessionAction("teardown", http.MethodDelete, "/api/session",
		"Tear Down", "Stop and remove the preview pipeline, keeping the device", s.session.TearDown)

	huma.Register(s.api, huma.Operation{
		OperationID: "set-format",
		Method:      http.MethodPut,
		Path:        "/api/session/format",
		Summary:     "Set Format",
		Description: "Change the capture format of the active device. Omitted fields keep their value.",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 409, 422, 503},
	}, func(ctx context.Context, input *models.SetFormatRequest) (*models.SessionResponse, error) {
		if err := s.session.SetFormat(ctx, input.Body); err != nil {
			return nil, sessionError(err)
		}
		return s.sessionResponse(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-snapshot",
		Method:      http.MethodGet,
		Path:        "/api/session/snapshot",
		Summary:     "Snapshot",
		Description: "Latest preview frame as JPEG, or the next one with wait=true",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(ctx context.Context, input *models.SnapshotRequest) (*models.SnapshotResponse, error) {
		if s.snapshots == nil {
			return nil, huma.Error503ServiceUnavailable("snapshots are not available")
		}
		var buf bytes.Buffer
		var err error
		if input.Wait {
			waitCtx, cancel := context.WithTimeout(ctx, snapshotWait)
			err = s.snapshots.WriteNextJPEG(waitCtx, &buf, input.MaxWidth, input.Quality)
			cancel()
		} else {
			err = s.snapshots.WriteJPEG(&buf, input.MaxWidth, input.Quality)
		}
		if err != nil {
			if errors.Is(err, pipeline.ErrNoFrame) {
				return nil, huma.Error503ServiceUnavailable("no frame captured yet")
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, huma.Error503ServiceUnavailable("no frame within " + snapshotWait.String())
			}
			return nil, huma.Error500InternalServerError("encode snapshot", err)
		}
		return &models.SnapshotResponse{ContentType: "image/jpeg", Body: buf.Bytes()}, nil
	})
}
