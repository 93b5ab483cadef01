package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// ContentDescriptor — что публиковать.
type ContentDescriptor struct {
	Caption string     `json:"caption,omitempty"`
	Media   []MediaRef `json:"media,omitempty"`
	Channel string     `json:"channel,omitempty"`
}

// MediaRef — ссылка на медиафайл.
type MediaRef struct {
	URL  string `json:"url"`
	Kind string `json:"kind,omitempty"`
}

// RecordResponse — запись из API.
type RecordResponse struct {
	ID              string            `json:"id"`
	OwningUserID    string            `json:"owning_user_id"`
	TargetAccountID string            `json:"target_account_id"`
	ScheduledAt     string            `json:"scheduled_at"`
	Content         ContentDescriptor `json:"content"`
	Recurrence      bool              `json:"recurrence"`
	Status          string            `json:"status"`
	JobGeneration   int64             `json:"job_generation"`
	FiredAt         string            `json:"fired_at,omitempty"`
	CancelledAt     string            `json:"cancelled_at,omitempty"`
	CreatedAt       string            `json:"created_at"`
	UpdatedAt       string            `json:"updated_at"`
	LiveJobs        []string          `json:"live_jobs,omitempty"`
}

// JobResponse — job брокера из API.
type JobResponse struct {
	ID          string `json:"id"`
	RecordID    string `json:"record_id"`
	RunAt       string `json:"run_at"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	State       string `json:"state"`
	LastError   string `json:"last_error,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// QueueStatsResponse — размеры очередей из API.
type QueueStatsResponse struct {
	Delayed int64 `json:"delayed"`
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
	Dead    int64 `json:"dead"`
	Live    int64 `json:"live"`
}

// SweepResponse — итог sweep из API.
type SweepResponse struct {
	Scanned  int `json:"scanned"`
	Enqueued int `json:"enqueued"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// --- Request types ---

// CreateRecordRequest — создание записи.
type CreateRecordRequest struct {
	OwningUserID    string            `json:"owning_user_id"`
	TargetAccountID string            `json:"target_account_id"`
	ScheduledAt     time.Time         `json:"scheduled_at"`
	Content         ContentDescriptor `json:"content"`
	Recurrence      bool              `json:"recurrence"`
}

// RescheduleRequest — перенос записи.
type RescheduleRequest struct {
	ScheduledAt     time.Time          `json:"scheduled_at"`
	TargetAccountID *string            `json:"target_account_id,omitempty"`
	Content         *ContentDescriptor `json:"content,omitempty"`
	Recurrence      *bool              `json:"recurrence,omitempty"`
}

// ListRecordsOpts — параметры фильтрации записей.
type ListRecordsOpts struct {
	UserID    string
	AccountID string
	Status    string
	Limit     int
	Offset    int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ошибка, которую вернул сервер.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsAPIErrorCode проверяет код ошибки API.
func IsAPIErrorCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// --- Client ---

// Client — HTTP-клиент для Postflow API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Records ---

// ListRecords возвращает записи с фильтрацией.
func (c *Client) ListRecords(opts ListRecordsOpts) ([]RecordResponse, error) {
	params := url.Values{}
	if opts.UserID != "" {
		params.Set("user_id", opts.UserID)
	}
	if opts.AccountID != "" {
		params.Set("account_id", opts.AccountID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	var records []RecordResponse
	err := c.list("/api/v1/records", params, &records)
	return records, err
}

// CreateRecord создаёт запись.
func (c *Client) CreateRecord(req CreateRecordRequest) (*RecordResponse, error) {
	var record RecordResponse
	err := c.post("/api/v1/records", req, &record)
	return &record, err
}

// GetRecord возвращает запись по ID вместе с живыми job'ами.
func (c *Client) GetRecord(id string) (*RecordResponse, error) {
	var record RecordResponse
	err := c.get("/api/v1/records/"+id, &record)
	return &record, err
}

// RescheduleRecord переносит запись.
func (c *Client) RescheduleRecord(id string, req RescheduleRequest) (*RecordResponse, error) {
	var record RecordResponse
	err := c.put("/api/v1/records/"+id+"/schedule", req, &record)
	return &record, err
}

// CancelRecord отменяет запись.
func (c *Client) CancelRecord(id string) (*RecordResponse, error) {
	var record RecordResponse
	err := c.post("/api/v1/records/"+id+"/cancel", nil, &record)
	return &record, err
}

// DeleteRecord удаляет запись.
func (c *Client) DeleteRecord(id string) error {
	return c.delete("/api/v1/records/" + id)
}

// --- Queue ---

// QueueStats возвращает размеры очередей.
func (c *Client) QueueStats() (*QueueStatsResponse, error) {
	var stats QueueStatsResponse
	err := c.get("/api/v1/queue/stats", &stats)
	return &stats, err
}

// ListDeadJobs возвращает последние dead job'ы.
func (c *Client) ListDeadJobs(limit int) ([]JobResponse, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var jobs []JobResponse
	err := c.list("/api/v1/queue/dead", params, &jobs)
	return jobs, err
}

// RedriveJob возвращает dead job в очередь.
func (c *Client) RedriveJob(jobID string) error {
	return c.post("/api/v1/queue/dead/"+url.PathEscape(jobID)+"/redrive", nil, nil)
}

// Sweep запускает sweep вне расписания.
func (c *Client) Sweep() (*SweepResponse, error) {
	var res SweepResponse
	err := c.post("/api/v1/ops/sweep", nil, &res)
	return &res, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
	}

	return apiErr
}
