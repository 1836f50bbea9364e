package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cangate/host/link"
	"cangate/host/serial"
	"cangate/host/store"
	"cangate/protocol"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// defaultSpamCycleMs is used when /start_spam omits the cycle
const defaultSpamCycleMs = 5000

// spamFrame is the fixed demo frame the spam loop sends
var spamFrame = protocol.TransmitFrame{
	Mode:           protocol.ModeStandard,
	CANID:          "1234",
	Payload:        "DATA",
	CyclicPeriodMs: 1000,
}

type connectRequest struct {
	Port     string   `json:"port" form:"port"`
	Baudrate baudRate `json:"baudrate" form:"baudrate"`
}

// baudRate binds a baud rate sent as a JSON number or a numeric string
type baudRate int

func (b *baudRate) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(strings.Trim(string(data), `"`))
	if s == "" || s == "null" {
		*b = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("baudrate %s is not a number", data)
	}
	*b = baudRate(n)
	return nil
}

type spamRequest struct {
	Cycle *int `json:"cycle" form:"cycle"`
}

type transmitRequest struct {
	CANID  string `json:"can_id" form:"can_id"`
	Data   string `json:"data" form:"data"`
	Cyclic uint16 `json:"cyclic" form:"cyclic"`
}

func (s *Server) registerRoutes() {
	r := s.router

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": "cangate",
			"version": protocol.Version,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ports", s.handlePorts)
	r.POST("/connect", s.handleConnect)
	r.GET("/uart_status", s.handleUARTStatus)
	r.GET("/uart", s.handleUARTLog)

	if s.protect != nil {
		r.GET("/protect_status", s.handleProtectStatus)
		r.POST("/toggle_protect", s.handleToggleProtect)
	}
	r.GET("/check_attack", s.handleCheckAttack)

	r.POST("/start_spam", s.handleStartSpam)
	r.POST("/stop_spam", s.handleStopSpam)

	r.GET("/catalog", s.handleCatalog)

	r.GET("/transmit", s.handleTransmitList)
	r.POST("/transmit", s.handleTransmitAdd)
	r.POST("/transmit/:id/edit", s.handleTransmitEdit)
	r.POST("/transmit/:id/delete", s.handleTransmitDelete)
	r.POST("/transmit/:id/send", s.handleTransmitSend)

	r.GET("/receive", s.handleReceiveList)
	r.POST("/receive/:id/delete", s.handleReceiveDelete)
}

func (s *Server) handlePorts(c *gin.Context) {
	ports, err := s.listPorts()
	if err != nil {
		s.log.Warn().Err(err).Msg("list serial ports")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ports":     ports,
		"baudrates": serial.Baudrates,
	})
}

func (s *Server) handleConnect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	req.Port = strings.TrimSpace(req.Port)
	if req.Port == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "port is required"})
		return
	}
	baud := int(req.Baudrate)
	if baud == 0 {
		baud = serial.DefaultConfig(req.Port).Baud
	}

	if err := s.link.Connect(req.Port, baud); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "connected"})
}

func (s *Server) handleUARTStatus(c *gin.Context) {
	device, baud := s.link.Device()
	c.JSON(http.StatusOK, gin.H{
		"connected":  s.link.IsConnected(),
		"device":     device,
		"baudrate":   baud,
		"generation": s.link.Generation(),
	})
}

func (s *Server) handleUARTLog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"log": strings.Join(s.store.Log(), "\n")})
}

func (s *Server) handleProtectStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"protected": s.protect.Enabled()})
}

func (s *Server) handleToggleProtect(c *gin.Context) {
	v, err := s.protect.Toggle()
	if err != nil {
		s.log.Error().Err(err).Msg("toggle protect mode")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"protected": v})
}

func (s *Server) handleCheckAttack(c *gin.Context) {
	flag, ok := s.link.LastAttackFlag()
	c.JSON(http.StatusOK, gin.H{
		"attack_detected": ok && flag == "01",
		"attack_flag":     flag,
	})
}

func (s *Server) handleStartSpam(c *gin.Context) {
	var req spamRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	cycle := defaultSpamCycleMs
	if req.Cycle != nil {
		cycle = *req.Cycle
	}
	if cycle < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cycle must not be negative"})
		return
	}
	if !s.link.IsConnected() {
		c.JSON(http.StatusConflict, gin.H{"error": link.ErrNotConnected.Error()})
		return
	}

	var err error
	if cycle == 0 {
		err = s.link.SendRaw(link.AttackFrame)
	} else {
		err = s.link.SendPeriodic(spamFrame, time.Duration(cycle)*time.Millisecond)
	}
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleStopSpam(c *gin.Context) {
	s.link.StopPeriodic()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"catalog": s.store.Catalog()})
}

func (s *Server) handleTransmitList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rows": s.store.TransmitRows()})
}

func (s *Server) handleTransmitAdd(c *gin.Context) {
	var req transmitRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	row, err := s.store.AddTransmit(strings.TrimSpace(req.CANID), req.Data, req.Cyclic)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "added", "row": row})
}

func (s *Server) handleTransmitEdit(c *gin.Context) {
	id, ok := rowID(c)
	if !ok {
		return
	}
	var req transmitRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	row, err := s.store.UpdateTransmit(id, req.Data, req.Cyclic)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated", "row": row})
}

func (s *Server) handleTransmitDelete(c *gin.Context) {
	id, ok := rowID(c)
	if !ok {
		return
	}
	if err := s.store.DeleteTransmit(id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// handleTransmitSend writes the row once; the gateway repeats it when the
// row carries a cyclic period
func (s *Server) handleTransmitSend(c *gin.Context) {
	id, ok := rowID(c)
	if !ok {
		return
	}
	row, err := s.store.Transmit(id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if err := s.link.SendOnce(row.Frame()); err != nil {
		s.log.Warn().Err(err).Int("row", id).Msg("send transmit row")
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (s *Server) handleReceiveList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rows": s.store.ReceiveRows()})
}

func (s *Server) handleReceiveDelete(c *gin.Context) {
	id, ok := rowID(c)
	if !ok {
		return
	}
	if err := s.store.DeleteReceive(id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func rowID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrUnknownCANID),
		errors.Is(err, protocol.ErrInvalidCANID),
		errors.Is(err, protocol.ErrInvalidMode),
		errors.Is(err, protocol.ErrPayloadTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, link.ErrNotConnected):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
