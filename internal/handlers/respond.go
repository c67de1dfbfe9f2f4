package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vendora/api/internal/platform/auth"
	"github.com/vendora/api/internal/services"
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

const defaultBodyLimit = 32 * 1024

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func pointerTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func cloneStringPointer(value *string) *string {
	if value == nil {
		return nil
	}
	copy := *value
	return &copy
}

func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToUpper(strings.TrimSpace(part))
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			filters = append(filters, trimmed)
		}
	}
	return filters
}

func parseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("must be RFC3339 timestamp")
}

func parsePagination(query map[string][]string, defaultSize, maxSize int) (services.Pagination, error) {
	pager := services.Pagination{PageSize: defaultSize}
	if tokens, ok := query["page_token"]; ok && len(tokens) > 0 {
		pager.PageToken = strings.TrimSpace(tokens[0])
	}
	sizes, ok := query["page_size"]
	if !ok || len(sizes) == 0 || strings.TrimSpace(sizes[0]) == "" {
		return pager, nil
	}
	size, err := strconv.Atoi(strings.TrimSpace(sizes[0]))
	if err != nil {
		return pager, errors.New("page_size must be an integer")
	}
	switch {
	case size <= 0:
		pager.PageSize = defaultSize
	case size > maxSize:
		pager.PageSize = maxSize
	default:
		pager.PageSize = size
	}
	return pager, nil
}

// actorFromIdentity converts the authenticated identity into the actor shape
// the service layer authorises against.
func actorFromIdentity(identity *auth.Identity) services.Actor {
	if identity == nil {
		return services.Actor{}
	}
	return services.Actor{
		UserID:   strings.TrimSpace(identity.UID),
		Email:    strings.TrimSpace(identity.Email),
		Name:     strings.TrimSpace(identity.Name),
		Roles:    identity.Roles,
		VendorID: strings.TrimSpace(identity.VendorID),
	}
}
