package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/craftline/commerce-api/internal/domain"
)

// Customer identity arrives from the API gateway as trusted headers; the
// service itself performs no authentication.
const (
	headerCustomerID   = "X-Customer-Id"
	headerSalesChannel = "X-Sales-Channel"
)

const defaultBodyLimit = 64 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

// customerFromRequest resolves the acting customer and sales channel from the
// gateway headers. The channel defaults to the storefront when absent.
func customerFromRequest(r *http.Request) (domain.CustomerContext, error) {
	customerID := strings.TrimSpace(r.Header.Get(headerCustomerID))
	if customerID == "" {
		return domain.CustomerContext{}, fmt.Errorf("header %s is required", headerCustomerID)
	}

	channel, err := parseSalesChannel(r.Header.Get(headerSalesChannel))
	if err != nil {
		return domain.CustomerContext{}, err
	}

	return domain.CustomerContext{CustomerID: customerID, Channel: channel}, nil
}

func parseSalesChannel(value string) (domain.SalesChannel, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(domain.ChannelWebsite):
		return domain.ChannelWebsite, nil
	case string(domain.ChannelSales):
		return domain.ChannelSales, nil
	default:
		return "", fmt.Errorf("unsupported sales channel %q", value)
	}
}

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

func isJSONNull(value json.RawMessage) bool {
	return strings.EqualFold(strings.TrimSpace(string(value)), "null")
}

func parseRFC3339(value string) (time.Time, error) {
	layouts := []string{time.RFC3339Nano, time.RFC3339}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", value)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
