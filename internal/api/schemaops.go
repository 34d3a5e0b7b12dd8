package api

import (
	"net/http"
	"time"
)

type schemaTable struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

type schemaResponse struct {
	Version   string        `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
	Fragments int           `json:"fragments"`
	Examples  int           `json:"examples"`
	Tables    []schemaTable `json:"tables"`
}

func handleSchemaRebuild(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Rebuilder == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "REBUILD_NOT_CONFIGURED", "schema rebuild is not configured", false, nil)
		return
	}
	version, err := deps.Rebuilder.Rebuild(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "REBUILD_FAILED", "schema index rebuild failed", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    version.ID,
		"created_at": version.CreatedAt,
		"fragments":  version.Fragments,
		"examples":   version.Examples,
	})
}

func handleSchemaShow(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema catalog is not configured", false, nil)
		return
	}
	version, snapshot, ok := deps.Catalog.Active()
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "NO_ACTIVE_SCHEMA", "no schema index version has been published", false, nil)
		return
	}

	tables := make([]schemaTable, 0, len(snapshot.Fragments))
	for _, fragment := range snapshot.Fragments {
		columns := make([]string, 0, len(fragment.Columns))
		for _, column := range fragment.Columns {
			columns = append(columns, column.Name)
		}
		tables = append(tables, schemaTable{Name: fragment.QualifiedName(), Columns: columns})
	}

	writeJSON(w, http.StatusOK, schemaResponse{
		Version:   version.ID,
		CreatedAt: version.CreatedAt,
		Fragments: version.Fragments,
		Examples:  version.Examples,
		Tables:    tables,
	})
}
