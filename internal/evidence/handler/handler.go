// Package handler exposes the evidence ledger over HTTP.
package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"veritas/internal/evidence"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/httputil"
	"veritas/pkg/requestcontext"
)

// Artifacts larger than this are rejected before buffering.
const maxArtifactBytes = 32 << 20

// Service defines the evidence operations the handler exposes.
type Service interface {
	Ingest(ctx context.Context, contents []byte, meta evidence.Metadata) (*evidence.Evidence, error)
	Get(ctx context.Context, evidenceID id.EvidenceID) (*evidence.Evidence, error)
	VerifyIntegrity(ctx context.Context, evidenceID id.EvidenceID) (*evidence.IntegrityResult, error)
	Supersede(ctx context.Context, oldID id.EvidenceID, contents []byte, meta evidence.Metadata) (*evidence.Evidence, error)
}

// Authorizer gates evidence operations on engagement membership.
type Authorizer interface {
	Authorize(ctx context.Context, userID id.UserID, engagementID id.EngagementID, capability id.Capability) error
}

// Handler serves the evidence endpoints.
type Handler struct {
	svc    Service
	authz  Authorizer
	logger *slog.Logger
}

// New creates an evidence Handler.
func New(svc Service, authz Authorizer, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, authz: authz, logger: logger}
}

// Register mounts the evidence routes on r. Auth middleware is applied by
// the parent router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/evidence", h.handleIngest)
	r.Get("/evidence/{evidenceID}", h.handleGet)
	r.Get("/evidence/{evidenceID}/verify", h.handleVerify)
	r.Post("/evidence/{evidenceID}/supersede", h.handleSupersede)
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	contents, meta, err := h.readArtifact(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.authz.Authorize(ctx, meta.UploadedBy, meta.EngagementID, id.CapabilityUploadEvidence); err != nil {
		httputil.WriteError(w, err)
		return
	}

	e, err := h.svc.Ingest(ctx, contents, meta)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, e)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	evidenceID, err := id.ParseEvidenceID(chi.URLParam(r, "evidenceID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	e, err := h.svc.Get(ctx, evidenceID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.authz.Authorize(ctx, requestcontext.UserID(ctx), e.EngagementID, id.CapabilityRead); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, e)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	evidenceID, err := id.ParseEvidenceID(chi.URLParam(r, "evidenceID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	e, err := h.svc.Get(ctx, evidenceID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.authz.Authorize(ctx, requestcontext.UserID(ctx), e.EngagementID, id.CapabilityRead); err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.svc.VerifyIntegrity(ctx, evidenceID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleSupersede(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	evidenceID, err := id.ParseEvidenceID(chi.URLParam(r, "evidenceID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	old, err := h.svc.Get(ctx, evidenceID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	contents, meta, err := h.readArtifact(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if meta.EngagementID.IsNil() {
		meta.EngagementID = old.EngagementID
	}
	if err := h.authz.Authorize(ctx, meta.UploadedBy, meta.EngagementID, id.CapabilityUploadEvidence); err != nil {
		httputil.WriteError(w, err)
		return
	}

	replacement, err := h.svc.Supersede(ctx, evidenceID, contents, meta)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, replacement)
}

// readArtifact parses the multipart upload: a "file" part plus metadata
// fields. engagement_id may be empty on supersede, where it is inherited.
func (h *Handler) readArtifact(r *http.Request) ([]byte, evidence.Metadata, error) {
	ctx := r.Context()
	var meta evidence.Metadata

	if err := r.ParseMultipartForm(maxArtifactBytes); err != nil {
		h.logger.WarnContext(ctx, "invalid multipart upload", "error", err.Error())
		return nil, meta, dErrors.New(dErrors.CodeInvalidInput, "invalid multipart request body")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, meta, dErrors.New(dErrors.CodeInvalidInput, "multipart field 'file' is required")
	}
	defer file.Close()

	contents, err := io.ReadAll(io.LimitReader(file, maxArtifactBytes+1))
	if err != nil {
		return nil, meta, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read artifact")
	}
	if len(contents) > maxArtifactBytes {
		return nil, meta, dErrors.New(dErrors.CodeInvalidInput, "artifact exceeds the 32 MiB limit")
	}

	if raw := r.FormValue("engagement_id"); raw != "" {
		engagementID, err := id.ParseEngagementID(raw)
		if err != nil {
			return nil, meta, err
		}
		meta.EngagementID = engagementID
	}
	if raw := r.FormValue("control_id"); raw != "" {
		controlID, err := id.ParseControlID(raw)
		if err != nil {
			return nil, meta, err
		}
		meta.ControlID = controlID
	}

	meta.FileName = header.Filename
	meta.ContentType = header.Header.Get("Content-Type")
	if meta.ContentType == "" {
		meta.ContentType = http.DetectContentType(contents)
	}
	meta.Source = r.FormValue("source")
	if meta.Source == "" {
		meta.Source = "manual-upload"
	}
	meta.UploadedBy = requestcontext.UserID(ctx)
	return contents, meta, nil
}
