package query

import "github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/module"

// ListModulesHandler returns the module catalog.
type ListModulesHandler struct {
	catalog module.Catalog
}

// NewListModulesHandler creates a handler.
func NewListModulesHandler(catalog module.Catalog) *ListModulesHandler {
	return &ListModulesHandler{catalog: catalog}
}

// Handle returns every module ordered by ID.
func (h *ListModulesHandler) Handle() []module.Definition {
	return h.catalog.List()
}

// Get returns one module or shared.ErrModuleNotFound.
func (h *ListModulesHandler) Get(id string) (module.Definition, error) {
	return h.catalog.Get(id)
}
