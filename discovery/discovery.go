// Package discovery registers this instance with a central register server by
// posting a periodic heartbeat.
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"DetStreamServer/logger"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// Instance classes advertised to the register server.
const (
	DmlInstance  = 0x2001
	CpuInstance  = 0x2002
	CudaInstance = 0x2003
	RocmInstance = 0x2004
)

const heartbeatSeconds = 5

type RegisterRequest struct {
	Id            string `json:"id"`
	IP            string `json:"ip"`
	Port          int    `json:"port"`
	InstanceClass int    `json:"instanceClass"`
	TimeStamp     int64  `json:"timestamp"`
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

var RegServerCfg RegServerConfig

// Heartbeat posts this instance's address and class to the register server
// every five seconds until ctx is cancelled. The instance id is minted once
// per heartbeat loop so the register server can track liveness.
func Heartbeat(ip string, port int, instanceClass int, ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	url := fmt.Sprintf("http://%s:%d/api/register", RegServerCfg.Addr, RegServerCfg.Port)
	client := resty.New().SetTimeout(heartbeatSeconds * time.Second)
	id := uuid.NewString()

	beat := func() {
		defer func() {
			if r := recover(); r != nil {
				logger.S().Errorf("heartbeat panic recovered: %v", r)
			}
		}()
		var respBody RegisterResponse
		resp, err := client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(RegisterRequest{
				Id:            id,
				IP:            ip,
				Port:          port,
				InstanceClass: instanceClass,
				TimeStamp:     time.Now().Unix(),
			}).
			SetResult(&respBody).
			Post(url)
		if err != nil {
			logger.S().Errorf("heartbeat request error: %v", err)
			return
		}
		if resp.IsError() {
			logger.S().Errorf("register server returned %s: %s", resp.Status(), resp.String())
			return
		}
		if !respBody.Success {
			logger.S().Warnf("register server rejected heartbeat id=%s", id)
		}
	}

	ticker := time.NewTicker(heartbeatSeconds * time.Second)
	defer ticker.Stop()
	beat()
	for {
		select {
		case <-ctx.Done():
			logger.S().Info("heartbeat stopped")
			return
		case <-ticker.C:
			beat()
		}
	}
}
