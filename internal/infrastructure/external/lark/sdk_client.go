// Package lark delivers workflow notifications through Lark instant messages.
package lark

import (
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"go.uber.org/zap"
)

// Receive ID types accepted by the IM API
const (
	ReceiveIDTypeUserID  = "user_id"
	ReceiveIDTypeOpenID  = "open_id"
	ReceiveIDTypeEmail   = "email"
	defaultReceiveIDType = ReceiveIDTypeUserID
)

// Config holds Lark client configuration
type Config struct {
	AppID     string
	AppSecret string

	// ReceiveIDType says how workflow user IDs map to Lark recipients
	ReceiveIDType string
}

// SDKClient wraps the Lark SDK client
type SDKClient struct {
	client        *lark.Client
	receiveIDType string
	logger        *zap.Logger
}

// NewSDKClient creates a new Lark SDK client
func NewSDKClient(cfg Config, logger *zap.Logger) *SDKClient {
	client := lark.NewClient(cfg.AppID, cfg.AppSecret,
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	)

	receiveIDType := cfg.ReceiveIDType
	if receiveIDType == "" {
		receiveIDType = defaultReceiveIDType
	}

	return &SDKClient{
		client:        client,
		receiveIDType: receiveIDType,
		logger:        logger,
	}
}

// GetClient returns the underlying Lark SDK client
func (c *SDKClient) GetClient() *lark.Client {
	return c.client
}
