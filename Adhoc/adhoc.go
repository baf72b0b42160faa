package Adhoc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"CascadeDetServer/logger"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ServiceClass   = "cascade"
	TimeOutSeconds = 5
)

// RegisterRequest announces a cascade instance to the registration server.
type RegisterRequest struct {
	Id        string   `json:"id"`
	IP        string   `json:"ip"`
	Port      int      `json:"port"`
	HTTPPort  int      `json:"httpPort"`
	Class     string   `json:"class"`
	Labels    []string `json:"labels"`
	TimeStamp int64    `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Port int
	Addr string
	// Interval between announcements; defaults to TimeOutSeconds.
	Interval time.Duration
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

// Announcement is what the instance reports about itself.
type Announcement struct {
	IP       string
	Port     int
	HTTPPort int
	Labels   []string
}

// SendAliveMessage posts the announcement immediately and then on every
// interval until ctx is done.
func SendAliveMessage(ctx context.Context, cfg RegServerConfig, ann Announcement, wg *sync.WaitGroup) {
	defer wg.Done()
	interval := cfg.Interval
	if interval <= 0 {
		interval = TimeOutSeconds * time.Second
	}
	url := fmt.Sprintf("http://%s:%d/api/register", cfg.Addr, cfg.Port)
	client := resty.New().SetTimeout(TimeOutSeconds * time.Second)
	id := uuid.NewString()
	log := logger.Log().With(zap.String("id", id), zap.String("url", url))

	send := func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("SendAliveMessage panic recovered", zap.Any("panic", r))
			}
		}()
		var respBody RegisterResponse
		resp, err := client.R().
			SetContext(ctx).
			SetBody(RegisterRequest{
				Id:        id,
				IP:        ann.IP,
				Port:      ann.Port,
				HTTPPort:  ann.HTTPPort,
				Class:     ServiceClass,
				Labels:    ann.Labels,
				TimeStamp: time.Now().Unix(),
			}).
			SetResult(&respBody).
			Post(url)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("Register request failed", zap.Error(err))
			}
			return
		}
		if resp.IsError() {
			log.Error("Register server returned error", zap.String("status", resp.Status()), zap.String("body", resp.String()))
			return
		}
		if !respBody.Success {
			log.Warn("Register server rejected announcement")
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	send()
	for {
		select {
		case <-ctx.Done():
			log.Info("SendAliveMessage context cancelled, exiting goroutine.")
			return
		case <-ticker.C:
			send()
		}
	}
}
