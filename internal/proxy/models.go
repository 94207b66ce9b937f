package proxy

import (
	"net/http"

	"github.com/ccbridge/ccbridge/internal/openaiadapter/anthropicclaude"
	"github.com/ccbridge/ccbridge/internal/openaiadapter/types"
)

// Fixed metadata of listed models. Deployments carry no creation date.
const (
	modelOwner   = "azure-anthropic"
	modelCreated = 1700000000
)

// modelsHandler lists the deployments of the catalog. The upstream deployment has no
// model listing endpoint, so the list is built once from configuration.
func modelsHandler(catalog *anthropicclaude.Catalog) http.HandlerFunc {
	deployments := catalog.Deployments()
	list := types.ModelList{
		Object: types.ObjectList,
		Data:   make([]types.Model, 0, len(deployments)),
	}
	for _, d := range deployments {
		list.Data = append(list.Data, types.Model{
			ID:      d,
			Object:  types.ObjectModel,
			Created: modelCreated,
			OwnedBy: modelOwner,
		})
	}

	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(r.Context(), w, list, http.StatusOK)
	}
}
