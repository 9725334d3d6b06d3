package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/lestrrat-go/supervisor/ipc"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const maxBodySize = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	force, err := queryBool(r, "force")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := s.ctl.Start(force); err != nil {
		writeSupervisorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.ctl.Stop()
	writeJSON(w, http.StatusAccepted, s.ctl.Status())
}

func (s *Server) handleRestart(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctl.Restart(); err != nil {
		writeSupervisorError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.ctl.Status())
}

// handleSetTimeout and handleSetInterval take {"delay": "5s", "force": true}.
func (s *Server) handleSetTimeout(w http.ResponseWriter, r *http.Request) {
	d, force, err := readSchedule(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	s.ctl.SetTimeout(d, force)
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handleClearTimeout(w http.ResponseWriter, _ *http.Request) {
	s.ctl.ClearTimeout()
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handleSetInterval(w http.ResponseWriter, r *http.Request) {
	d, force, err := readSchedule(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	s.ctl.SetInterval(d, force)
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handleClearInterval(w http.ResponseWriter, _ *http.Request) {
	s.ctl.ClearInterval()
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

// handleMessage forwards the request body, which must be JSON, to the child.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if !gjson.ValidBytes(body) {
		writeBadRequest(w, "message body must be valid JSON")
		return
	}
	if err := s.ctl.Send(ipc.Message(body)); err != nil {
		writeSupervisorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read request body")
	}
	return body, nil
}

func readSchedule(r *http.Request) (time.Duration, bool, error) {
	body, err := readBody(r)
	if err != nil {
		return 0, false, err
	}
	if !gjson.ValidBytes(body) {
		return 0, false, errors.New("request body must be valid JSON")
	}

	delay := gjson.GetBytes(body, "delay")
	if !delay.Exists() {
		return 0, false, errors.New("delay is required")
	}

	var d time.Duration
	switch delay.Type {
	case gjson.Number:
		d = time.Duration(delay.Int()) * time.Millisecond
	case gjson.String:
		d, err = time.ParseDuration(delay.String())
		if err != nil {
			return 0, false, errors.Wrapf(err, "failed to parse delay %q", delay.String())
		}
	default:
		return 0, false, errors.New("delay must be a duration string or milliseconds")
	}
	if d < 0 {
		return 0, false, errors.New("delay must not be negative")
	}
	return d, gjson.GetBytes(body, "force").Bool(), nil
}

func queryBool(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.Wrapf(err, "failed to parse %s", name)
	}
	return b, nil
}
