package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/dpt"
)

// Write request validation errors.
var (
	errNoPayload = errors.New("value with dpt, or raw, is required")
	errRawHex    = errors.New("raw must be hex encoded")
)

// groupWriteRequest is the body of POST /groups/{ga}/write and the payload
// of a stream write command. Either Value with DPT, or Raw as hex, must be
// set. Address is only read from stream commands.
type groupWriteRequest struct {
	Address   string `json:"address,omitempty"`
	Value     any    `json:"value"`
	DPT       string `json:"dpt"`
	Raw       string `json:"raw"`
	BitLength int    `json:"bit_length"`
}

// writeGroup sends req to ga through link.
func writeGroup(ctx context.Context, link busCommander, ga address.GroupAddress, req groupWriteRequest) error {
	switch {
	case req.Raw != "":
		data, err := hex.DecodeString(req.Raw)
		if err != nil {
			return errRawHex
		}
		return link.WriteRaw(ctx, ga.String(), data, req.BitLength)
	case req.DPT != "" && req.Value != nil:
		return link.Write(ctx, ga.String(), req.Value, req.DPT)
	default:
		return errNoPayload
	}
}

// groupParam parses the escaped {ga} URL parameter.
func groupParam(r *http.Request) (address.GroupAddress, error) {
	return address.ParseGroupFromURL(chi.URLParam(r, "ga"))
}

// handleGroupWrite sends GroupValue_Write to a group address.
func (s *Server) handleGroupWrite(w http.ResponseWriter, r *http.Request) {
	ga, err := groupParam(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	var req groupWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	if err := writeGroup(r.Context(), s.link, ga, req); err != nil {
		s.writeFailure(w, r, err, "group_address", ga.String())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address": ga.String(),
		"status":  "sent",
	})
}

// handleGroupRead sends GroupValue_Read and waits for the response. The
// optional dpt query parameter decodes the returned value.
func (s *Server) handleGroupRead(w http.ResponseWriter, r *http.Request) {
	ga, err := groupParam(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	dptID := r.URL.Query().Get("dpt")
	if dptID != "" {
		if _, err := dpt.BitLength(dptID); err != nil {
			s.writeFailure(w, r, err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), groupReadTimeout)
	defer cancel()

	ev, err := s.link.Read(ctx, ga.String())
	if err != nil {
		s.writeFailure(w, r, err, "group_address", ga.String())
		return
	}

	resp := map[string]any{
		"address":    ga.String(),
		"source":     ev.Source.String(),
		"data":       hex.EncodeToString(ev.Data),
		"bit_length": ev.BitLength,
		"timestamp":  ev.Time,
	}
	if dptID != "" {
		resp["dpt"] = dptID
		if v, decErr := ev.Value(dptID); decErr != nil {
			resp["decode_error"] = decErr.Error()
		} else {
			resp["value"] = v
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
