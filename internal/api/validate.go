package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/bitbeam/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// maxJSONBody bounds control-plane request bodies; payloads have their own limit.
	maxJSONBody = 64 << 10
)

// decodeJSON reads exactly one JSON object into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.BadRequestf("request body exceeds %d bytes", maxJSONBody)
		}
		return domain.BadRequestf("malformed JSON body: %v", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return domain.BadRequestf("request body must hold a single JSON object")
	}
	return nil
}

// pathID returns the validated {id} route variable.
func pathID(r *http.Request) (string, error) {
	id := mux.Vars(r)["id"]
	if err := domain.ValidateID(id); err != nil {
		return "", err
	}
	return id, nil
}

// listParams parses ?status=&limit=&cursor= for the listing endpoint.
func listParams(r *http.Request) (domain.ListFilter, *domain.Cursor, int, error) {
	q := r.URL.Query()

	var filter domain.ListFilter
	if s := q.Get("status"); s != "" {
		st, err := domain.ParseStatus(s)
		if err != nil {
			return filter, nil, 0, err
		}
		filter.Status = &st
	}

	limit := defaultListLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxListLimit {
			return filter, nil, 0, domain.BadRequestf("limit must be an integer between 1 and %d", maxListLimit)
		}
		limit = n
	}

	cursor, err := domain.DecodeCursor(q.Get("cursor"))
	if err != nil {
		return filter, nil, 0, err
	}
	return filter, cursor, limit, nil
}
