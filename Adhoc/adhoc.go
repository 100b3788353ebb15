package Adhoc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"LaneDetServer/logger"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const TimeOutSeconds = 5

type RegisterRequest struct {
	Id        string `json:"id"`
	IP        string `json:"ip"`
	RPCPort   int    `json:"rpcPort"`
	HTTPPort  int    `json:"httpPort"`
	Sessions  int    `json:"sessions"`
	Capacity  int    `json:"capacity"`
	TimeStamp int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Port int
	Addr string
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

func (reg RegServerConfig) URL() string {
	return fmt.Sprintf("http://%s:%d/api/register", reg.Addr, reg.Port)
}

// Instance describes this server to the registry.
type Instance struct {
	IP       string
	RPCPort  int
	HTTPPort int
	Capacity int
	// Sessions reports the number of open sessions at send time.
	Sessions func() int
}

// Heartbeat posts RegisterRequest to the registry every Interval.
type Heartbeat struct {
	Reg      RegServerConfig
	Self     Instance
	Interval time.Duration

	id     string
	client *resty.Client
}

func NewHeartbeat(reg RegServerConfig, self Instance) *Heartbeat {
	return &Heartbeat{
		Reg:      reg,
		Self:     self,
		Interval: TimeOutSeconds * time.Second,
		id:       uuid.NewString(),
		client:   resty.New().SetTimeout(TimeOutSeconds * time.Second),
	}
}

func (h *Heartbeat) ID() string {
	return h.id
}

// Send posts one heartbeat. A non-2xx answer is an error.
func (h *Heartbeat) Send(ctx context.Context) (RegisterResponse, error) {
	var respBody RegisterResponse
	sessions := 0
	if h.Self.Sessions != nil {
		sessions = h.Self.Sessions()
	}
	reqBody := RegisterRequest{
		Id:        h.id,
		IP:        h.Self.IP,
		RPCPort:   h.Self.RPCPort,
		HTTPPort:  h.Self.HTTPPort,
		Sessions:  sessions,
		Capacity:  h.Self.Capacity,
		TimeStamp: time.Now().Unix(),
	}
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&respBody).
		Post(h.Reg.URL())
	if err != nil {
		return respBody, fmt.Errorf("register request: %w", err)
	}
	if resp.IsError() {
		return respBody, fmt.Errorf("registry returned %s: %s", resp.Status(), resp.String())
	}
	return respBody, nil
}

// Run sends heartbeats until ctx is done. Failures are logged, never fatal.
func (h *Heartbeat) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()
	safeDoRequest := func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Log().Error("heartbeat panic recovered", zap.Any("panic", r))
			}
		}()
		if _, err := h.Send(ctx); err != nil && ctx.Err() == nil {
			logger.Log().Error("heartbeat failed", zap.String("registry", h.Reg.URL()), zap.Error(err))
		}
	}
	safeDoRequest()
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("heartbeat stopped")
			return
		case <-ticker.C:
			safeDoRequest()
		}
	}
}
