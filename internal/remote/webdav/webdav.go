package webdav

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"habitsync/internal/remote"
	"habitsync/internal/snapshot"
	"habitsync/internal/utils"
)

func init() {
	// Register WebDAV remote for config type "webdav"
	remote.RegisterType("webdav", func(cfg remote.Config) (remote.Store, error) {
		return New(cfg)
	})
}

const (
	defaultTimeout = 30 * time.Second
	// maxBodySize caps how much of a response is read into memory
	maxBodySize = 64 << 20
)

// Store keeps the snapshot as a file in a WebDAV collection (Nextcloud,
// ownCloud and most personal cloud drives), with the header in a sidecar
// file so metadata checks do not download the whole dataset.
type Store struct {
	cfg        remote.Config
	username   string
	password   string
	collection string
	client     *http.Client
}

// New creates a WebDAV store. The URL names the collection holding the
// snapshot; a URL with no path defaults to the user's Nextcloud files root.
func New(cfg remote.Config) (*Store, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL for webdav remote: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid URL for webdav remote: missing host")
	}

	s := &Store{cfg: cfg, username: cfg.Username, password: cfg.Password}
	if u.User != nil {
		if s.username == "" {
			s.username = u.User.Username()
		}
		if p, ok := u.User.Password(); ok && s.password == "" {
			s.password = p
		}
	}
	if s.username == "" {
		return nil, fmt.Errorf("no username for webdav remote %s", cfg.DisplayName())
	}

	// Always use HTTPS unless HTTP is explicitly allowed
	scheme := "https"
	if u.Scheme == "http" {
		if !cfg.AllowHTTP {
			return nil, fmt.Errorf("refusing plain HTTP for %s: set allow_http to use it", cfg.DisplayName())
		}
		scheme = "http"
		utils.Warnf("Remote %s uses plain HTTP: credentials and data travel unencrypted", cfg.DisplayName())
	}
	if cfg.InsecureSkipVerify && !cfg.SuppressSSLWarning {
		utils.Warnf("TLS certificate verification is disabled for %s", cfg.DisplayName())
	}

	path := strings.TrimRight(u.Path, "/")
	if path == "" {
		path = "/remote.php/dav/files/" + url.PathEscape(s.username)
	}
	s.collection = fmt.Sprintf("%s://%s%s", scheme, u.Host, path)

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	s.client = &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     30 * time.Second,
		},
		Timeout: timeout,
	}

	return s, nil
}

// DisplayName identifies the remote in messages
func (s *Store) DisplayName() string {
	return s.cfg.DisplayName()
}

func (s *Store) fileURL(name string) string {
	return s.collection + "/" + url.PathEscape(name)
}

// GetMetadata reads the sidecar. Snapshots written by other tools may have
// no sidecar, in which case the header is read from the body.
func (s *Store) GetMetadata(ctx context.Context, fileID string) (*snapshot.Header, error) {
	if err := remote.ValidateFileID(fileID); err != nil {
		return nil, err
	}

	data, err := s.get(ctx, "GetMetadata", s.fileURL(fileID+remote.MetadataSuffix))
	if remote.IsNotFound(err) {
		utils.Debugf("No metadata sidecar for %s, reading snapshot header from body", fileID)
		data, err = s.get(ctx, "GetMetadata", s.fileURL(fileID))
	}
	if err != nil {
		return nil, err
	}
	return snapshot.DecodeMetadata(data)
}

// GetBody downloads the snapshot
func (s *Store) GetBody(ctx context.Context, fileID string) ([]byte, error) {
	if err := remote.ValidateFileID(fileID); err != nil {
		return nil, err
	}
	return s.get(ctx, "GetBody", s.fileURL(fileID))
}

// PutBody uploads the snapshot, then its sidecar. A missing collection is
// created on first upload.
func (s *Store) PutBody(ctx context.Context, fileID string, body []byte) error {
	if err := remote.ValidateFileID(fileID); err != nil {
		return err
	}
	header, err := remote.HeaderFromBody(body)
	if err != nil {
		return remote.NewTransportError("PutBody", remote.KindProtocol, err.Error()).WithError(err)
	}
	sidecar, err := snapshot.EncodeMetadata(*header)
	if err != nil {
		return err
	}

	// Drop the old sidecar first: readers then fall back to the body header
	// instead of trusting a sidecar describing the previous snapshot
	metaURL := s.fileURL(fileID + remote.MetadataSuffix)
	if err := s.delete(ctx, metaURL); err != nil {
		return err
	}

	err = s.put(ctx, s.fileURL(fileID), body)
	if te, ok := remote.AsTransportError(err); ok && te.StatusCode == http.StatusConflict {
		// 409 means the parent collection does not exist yet
		if err := s.mkcol(ctx); err != nil {
			return err
		}
		err = s.put(ctx, s.fileURL(fileID), body)
	}
	if err != nil {
		return err
	}

	// Without a sidecar metadata checks read the body, so this is not fatal
	if err := s.put(ctx, metaURL, sidecar); err != nil {
		utils.Warnf("Snapshot uploaded but its metadata sidecar was not: %v", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, op, target string) ([]byte, error) {
	resp, err := s.makeAuthenticatedRequest(ctx, http.MethodGet, target, nil, nil)
	if err != nil {
		return nil, networkError(op, err)
	}
	defer resp.Body.Close()

	if err := checkHTTPResponse(resp, op, http.StatusOK); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, networkError(op, err)
	}
	if len(data) > maxBodySize {
		return nil, remote.NewTransportError(op, remote.KindProtocol, "remote file exceeds size limit")
	}
	return data, nil
}

func (s *Store) put(ctx context.Context, target string, body []byte) error {
	headers := map[string]string{"Content-Type": "application/json"}
	resp, err := s.makeAuthenticatedRequest(ctx, http.MethodPut, target, bytes.NewReader(body), headers)
	if err != nil {
		return networkError("PutBody", err)
	}
	defer resp.Body.Close()

	return checkHTTPResponse(resp, "PutBody", http.StatusOK, http.StatusCreated, http.StatusNoContent)
}

func (s *Store) delete(ctx context.Context, target string) error {
	resp, err := s.makeAuthenticatedRequest(ctx, http.MethodDelete, target, nil, nil)
	if err != nil {
		return networkError("PutBody", err)
	}
	defer resp.Body.Close()

	return checkHTTPResponse(resp, "PutBody", http.StatusOK, http.StatusNoContent, http.StatusNotFound)
}

func (s *Store) mkcol(ctx context.Context) error {
	resp, err := s.makeAuthenticatedRequest(ctx, "MKCOL", s.collection+"/", nil, nil)
	if err != nil {
		return networkError("PutBody", err)
	}
	defer resp.Body.Close()

	// 405: the collection already exists
	return checkHTTPResponse(resp, "PutBody", http.StatusCreated, http.StatusMethodNotAllowed)
}

// makeAuthenticatedRequest creates and executes an authenticated HTTP request
func (s *Store) makeAuthenticatedRequest(ctx context.Context, method, target string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.SetBasicAuth(s.username, s.password)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

// checkHTTPResponse maps unexpected statuses to TransportError kinds
func checkHTTPResponse(resp *http.Response, op string, allowedStatuses ...int) error {
	for _, status := range allowedStatuses {
		if resp.StatusCode == status {
			return nil
		}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var te *remote.TransportError
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		te = remote.NewTransportError(op, remote.KindUnauthorized, "Authentication failed. Please check your username and password")
	case resp.StatusCode == http.StatusNotFound:
		te = remote.NewTransportError(op, remote.KindNotFound, "Remote file not found")
	case resp.StatusCode == http.StatusInsufficientStorage:
		te = remote.NewTransportError(op, remote.KindQuotaExceeded, "Storage quota exceeded")
	case resp.StatusCode >= 500:
		te = remote.NewTransportError(op, remote.KindServer, resp.Status)
	default:
		te = remote.NewTransportError(op, remote.KindProtocol, resp.Status)
	}
	return te.WithStatus(resp.StatusCode).WithBody(string(body))
}

func networkError(op string, err error) error {
	msg := err.Error()
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		msg = "request timeout"
	} else if errors.Is(err, context.Canceled) {
		msg = "request canceled"
	}
	return remote.NewTransportError(op, remote.KindNetwork, msg).WithError(err)
}
