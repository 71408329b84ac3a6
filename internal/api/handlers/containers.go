package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"stowage/internal/billing"
	"stowage/internal/core"
	"stowage/internal/types"
)

// ContainerReader loads a container and its line items.
// *db.ContainerRepository implements it.
type ContainerReader interface {
	GetContainer(ctx context.Context, id string) (*types.Container, error)
	FetchLineItems(ctx context.Context, containerID string) ([]types.LineItem, error)
}

// ContainerHandler serves the container projection.
type ContainerHandler struct {
	repo   ContainerReader
	logger *slog.Logger
}

// NewContainerHandler creates a ContainerHandler.
func NewContainerHandler(repo ContainerReader, l *slog.Logger) *ContainerHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ContainerHandler{repo: repo, logger: l}
}

// RegisterRoutes mounts the container endpoints.
func (h *ContainerHandler) RegisterRoutes(r chi.Router) {
	r.Get("/containers/{id}", h.GetContainer)
}

// GetContainer handles GET /v1/containers/{id}. Strategy and occupancy are
// derived from the current line items on every request.
func (h *ContainerHandler) GetContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !isUUID(id) {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundContainer,
			fmt.Sprintf("container %s not found", id), nil))
		return
	}

	c, err := h.repo.GetContainer(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	items, err := h.repo.FetchLineItems(r.Context(), c.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.Data(w, r, http.StatusOK, billing.Project(*c, items))
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
