package validators

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
)

// ProviderParam reads the {provider} path segment.
func ProviderParam(r *http.Request) (enums.Provider, error) {
	raw := chi.URLParam(r, "provider")
	provider, err := enums.ParseProvider(raw)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown provider").WithDetails(map[string]any{"provider": raw})
	}
	return provider, nil
}

// OptionalProviderQuery parses an optional provider filter.
func OptionalProviderQuery(r *http.Request, key string) (*enums.Provider, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	provider, err := enums.ParseProvider(raw)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid provider filter").WithDetails(map[string]any{"field": key})
	}
	return &provider, nil
}

// OptionalDispatchStatusQuery parses an optional dispatch status filter.
func OptionalDispatchStatusQuery(r *http.Request, key string) (*enums.DispatchStatus, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	status, err := enums.ParseDispatchStatus(strings.ToLower(raw))
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter").WithDetails(map[string]any{"field": key})
	}
	return &status, nil
}
