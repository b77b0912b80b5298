package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nasa-jpl/labsweep/acq"
	"github.com/nasa-jpl/labsweep/generichttp/acquisition"
)

// Client talks to the /acq routes of an acqsrv
type Client struct {
	// URL is the root of the acquisition routes, e.g. http://localhost:8000/acq
	URL string

	HTTP *http.Client
}

// NewClient returns a client for the server at url
func NewClient(url string) *Client {
	return &Client{URL: strings.TrimSuffix(url, "/"), HTTP: &http.Client{Timeout: 10 * time.Second}}
}

// ServerError is a non-2xx response
type ServerError struct {
	Code int
	Msg  string
}

func (e ServerError) Error() string {
	return fmt.Sprintf("acqctl: server returned %d %s: %s", e.Code, http.StatusText(e.Code), e.Msg)
}

func (c *Client) do(method, path string, body interface{}, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.URL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(resp.Body)
		return ServerError{Code: resp.StatusCode, Msg: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Snapshot starts a snapshot and returns the run id
func (c *Client) Snapshot(mode, name string) (string, error) {
	var st acquisition.Started
	err := c.do(http.MethodPost, "/snapshot", acquisition.SnapshotRequest{Mode: mode, Name: name}, &st)
	return st.ID, err
}

// Sweep starts a sweep and returns the run id
func (c *Client) Sweep(req acq.SweepRequest) (string, error) {
	var st acquisition.Started
	err := c.do(http.MethodPost, "/sweep", req, &st)
	return st.ID, err
}

// Cancel stops the active run
func (c *Client) Cancel() error {
	return c.do(http.MethodPost, "/cancel", nil, nil)
}

// Status returns the state of the current or last run
func (c *Client) Status() (acq.Status, error) {
	var st acq.Status
	err := c.do(http.MethodGet, "/status", nil, &st)
	return st, err
}

// Wait polls the status every interval until the run with id is no longer
// running.  An empty id waits for whatever run is current.  progress, if not
// nil, is called with every status seen.
func (c *Client) Wait(id string, interval time.Duration, progress func(acq.Status)) (acq.Status, error) {
	for {
		st, err := c.Status()
		if err != nil {
			return st, err
		}
		if progress != nil {
			progress(st)
		}
		if !st.Running && (id == "" || st.ID == id) {
			return st, nil
		}
		time.Sleep(interval)
	}
}

// SweepFromArgs builds a sweep request from kind=start:stop:count or
// kind=v1,v2 arguments.  The first argument is the outermost dimension.
func SweepFromArgs(name string, args []string) (acq.SweepRequest, error) {
	req := acq.SweepRequest{Name: name}
	for _, a := range args {
		d, err := acq.ParseDimensionArg(a)
		if err != nil {
			return req, err
		}
		req.Dimensions = append(req.Dimensions, d)
	}
	_, err := req.Request()
	return req, err
}
