package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/keeperbot/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// parseListOpts reads limit, offset, since and until from the query string.
// limit defaults to 50 and is capped at 500. since and until are RFC 3339
// and since must precede until.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: defaultPageSize}

	var err error
	if opts.Limit, err = intParam(q, "limit", defaultPageSize, 1); err != nil {
		return domain.ListOpts{}, err
	}
	opts.Limit = min(opts.Limit, maxPageSize)
	if opts.Offset, err = intParam(q, "offset", 0, 0); err != nil {
		return domain.ListOpts{}, err
	}
	if opts.Since, err = timeParam(q, "since"); err != nil {
		return domain.ListOpts{}, err
	}
	if opts.Until, err = timeParam(q, "until"); err != nil {
		return domain.ListOpts{}, err
	}
	if opts.Since != nil && opts.Until != nil && !opts.Since.Before(*opts.Until) {
		return domain.ListOpts{}, fmt.Errorf("since must be before until")
	}
	return opts, nil
}

func intParam(q url.Values, name string, def, floor int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < floor {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return n, nil
}

func timeParam(q url.Values, name string) (*time.Time, error) {
	raw := q.Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: want RFC 3339", name, raw)
	}
	return &t, nil
}

func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("component", "http"), slog.String("handler", handler))
}
