package opclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"AICallCenter/internal/ledger"
)

// 服务端以200返回的业务失败
var (
	ErrTransferNotFound = errors.New("transfer not found")
	ErrTransferTaken    = errors.New("transfer already handled")
)

// AcceptedTransfer 接受转接后的入房凭证
type AcceptedTransfer struct {
	Token       string                  `json:"token"`
	RoomName    string                  `json:"room_name"`
	PlatformURL string                  `json:"platform_url"`
	Transfer    *ledger.TransferRequest `json:"transfer_record"`
}

// ListPending 拉取待接转接列表
func (c *Client) ListPending(ctx context.Context) ([]*ledger.TransferRequest, error) {
	var resp struct {
		Transfers []*ledger.TransferRequest `json:"transfers"`
		Count     int                       `json:"count"`
	}

	if err := c.doGet(ctx, "/api/transfers", &resp); err != nil {
		return nil, err
	}

	return resp.Transfers, nil
}

// AcceptTransfer 接受指定转接，返回入房Token。
// 名额已被其他坐席接走时返回ErrTransferTaken。
func (c *Client) AcceptTransfer(ctx context.Context, transferID string) (*AcceptedTransfer, error) {
	req := map[string]string{
		"transfer_id": transferID,
		"agent_name":  c.config.AgentName,
	}

	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		AcceptedTransfer
	}

	if err := c.doPost(ctx, "/api/accept-transfer", req, &resp); err != nil {
		return nil, err
	}

	switch resp.Error {
	case "":
	case "Transfer not found":
		return nil, ErrTransferNotFound
	case "Transfer already handled":
		return nil, ErrTransferTaken
	default:
		return nil, fmt.Errorf("accept transfer failed: %s", resp.Error)
	}

	if !resp.Success {
		return nil, errors.New("accept transfer failed")
	}

	return &resp.AcceptedTransfer, nil
}

// CreateTransfer 手工创建转接请求（监督席代客户发起）
func (c *Client) CreateTransfer(ctx context.Context, roomName, reason string) (*ledger.TransferRequest, error) {
	req := map[string]string{
		"room_name": roomName,
		"reason":    reason,
	}

	var resp struct {
		Success  bool                    `json:"success"`
		Error    string                  `json:"error"`
		Transfer *ledger.TransferRequest `json:"transfer"`
	}

	if err := c.doPost(ctx, "/api/create-transfer", req, &resp); err != nil {
		return nil, err
	}

	if resp.Error != "" {
		return nil, fmt.Errorf("create transfer failed: %s", resp.Error)
	}

	return resp.Transfer, nil
}

// EndTransfer 标记转接处理完成
func (c *Client) EndTransfer(ctx context.Context, transferID string) error {
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}

	path := "/api/end-transfer/" + url.PathEscape(transferID)
	if err := c.doPost(ctx, path, nil, &resp); err != nil {
		return err
	}

	if resp.Error != "" {
		return fmt.Errorf("end transfer failed: %s", resp.Error)
	}

	return nil
}

// doGet 执行GET请求并解析JSON响应
func (c *Client) doGet(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.ServerURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	return c.doRequest(req, out)
}

// doPost 执行POST请求并解析JSON响应
func (c *Client) doPost(ctx context.Context, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request failed: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.ServerURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	return c.doRequest(req, out)
}

// doRequest 发送请求，5xx视为传输层错误
func (c *Client) doRequest(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("server error: %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response failed: %w", err)
	}

	return nil
}
