package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"DetStreamServer/annotate"
	"DetStreamServer/engine"
	iface "DetStreamServer/interface"
	"DetStreamServer/logger"
	"DetStreamServer/models"
	"DetStreamServer/monitor"
	"DetStreamServer/selection"
	"DetStreamServer/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gocv.io/x/gocv"
)

const (
	IDLE = 0x1001
	BUSY = 0x1002
)

// Board size used until the first frame tells us the real stream dimensions.
const (
	defaultBoardW = 640
	defaultBoardH = 480
)

type EngineParam struct {
	ModelPath   string   `json:"modelPath"`
	Names       []string `json:"names"`
	Conf        float32  `json:"conf"`
	Iou         float32  `json:"iou"`
	UseGPU      bool     `json:"useGPU"`
	Backend     string   `json:"backend"`
	Description string   `json:"description"`
}

type worker struct {
	mu          sync.Mutex
	State       int
	Description string
	EngineType  int
	detector    *engine.Detector
}

type instance struct {
	id          string
	worker      *worker
	lastActive  atomic.Int64
	conn        *websocket.Conn
	closeOnce   sync.Once
	cancelTimer chan struct{}
	cancelOnce  sync.Once
	board       *selection.Board
}

var (
	seqMu     sync.RWMutex
	workers   = map[string]*worker{}
	sessionMu sync.RWMutex
	sessions  = map[string]*instance{}
	upgrader  = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	idleTimeout = 1000 * time.Millisecond

	histStore   *storage.Store
	catalog     *models.Catalog
	palette     = annotate.NewPalette(16)
	boardStroke = "#1e90ff"
)

func (inst *instance) touch() {
	inst.lastActive.Store(time.Now().UnixNano())
}

func (inst *instance) idleFor() time.Duration {
	return time.Duration(time.Now().UnixNano() - inst.lastActive.Load())
}

func addWorker(description string, engineType int, param EngineParam) (string, error) {
	detector := &engine.Detector{}
	if param.Backend == "" {
		detector.New()
	} else if !detector.NewWithBackend(param.Backend) {
		return "", fmt.Errorf("unknown backend %q", param.Backend)
	}
	names := iface.NamesConf{
		IsFile: false,
		Data:   param.Names,
	}
	ok, err := detector.LoadModel(param.ModelPath, names, param.Conf, param.Iou, param.UseGPU)
	if !ok {
		return "", fmt.Errorf("load model: %v", err)
	}
	w := &worker{
		State:       IDLE,
		Description: description,
		EngineType:  engineType,
		detector:    detector,
	}
	id := uuid.New().String()
	seqMu.Lock()
	workers[id] = w
	seqMu.Unlock()
	if param.UseGPU {
		logger.S().Infof("Using GPU, warming up worker %s", id)
		warmMat := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
		for i := 0; i < 3; i++ {
			// Detect must not take the server down during warmup.
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.S().Errorf("panic during warmup detect: %v", r)
					}
				}()
				_ = w.detector.Detect(warmMat)
			}()
		}
		_ = warmMat.Close()
		logger.S().Infof("Warm up finished for worker %s", id)
	}
	return id, nil
}

func allocInstance() (string, string, error) {
	seqMu.RLock()
	var chosenID string
	var chosen *worker
	for id, w := range workers {
		w.mu.Lock()
		if w.State == IDLE {
			w.State = BUSY
			chosenID = id
			chosen = w
			w.mu.Unlock()
			break
		}
		w.mu.Unlock()
	}
	seqMu.RUnlock()
	if chosen == nil {
		return "", "", errors.New("no available workers")
	}

	sessionID := uuid.New().String()
	inst := &instance{
		id:          sessionID,
		worker:      chosen,
		cancelTimer: make(chan struct{}),
	}
	inst.touch()

	sessionMu.Lock()
	sessions[sessionID] = inst
	sessionMu.Unlock()
	monitor.SessionsActive.Inc()

	return sessionID, chosenID, nil
}

func releaseInstance(sessionID string) bool {
	sessionMu.Lock()
	inst, ok := sessions[sessionID]
	if ok {
		delete(sessions, sessionID)
	}
	sessionMu.Unlock()
	if !ok {
		return false
	}

	inst.closeOnce.Do(func() {
		if inst.conn != nil {
			_ = inst.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "1000 ms not active, released"))
			_ = inst.conn.Close()
		}
	})
	inst.cancelOnce.Do(func() {
		close(inst.cancelTimer)
	})
	inst.worker.mu.Lock()
	inst.worker.State = IDLE
	inst.worker.mu.Unlock()
	monitor.SessionsActive.Dec()
	if histStore != nil {
		_ = histStore.ReleaseSession(sessionID)
	}
	return true
}

func startIdleMonitor(inst *instance) {
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-inst.cancelTimer:
				return
			case <-ticker.C:
				if inst.idleFor() > idleTimeout {
					_ = releaseInstance(inst.id)
					logger.S().Infof("Session %s idle timed out", inst.id)
					return
				}
			}
		}
	}()
}

// Websocket message envelope. Frames carry base64 JPEG in data; pointer events
// carry kind plus coordinates; region carries an explicit rect or null to
// clear.
type wsRequest struct {
	Type string          `json:"type"`
	Data string          `json:"data,omitempty"`
	Kind string          `json:"kind,omitempty"`
	X    int             `json:"x"`
	Y    int             `json:"y"`
	Rect *selection.Rect `json:"rect,omitempty"`
}

type wsResult struct {
	Type      string                    `json:"type"`
	Results   map[string][]iface.Result `json:"results"`
	Annotated string                    `json:"annotated,omitempty"`
	InferMs   float64                   `json:"inferMs"`
}

type wsSelection struct {
	Type      string          `json:"type"`
	Dragging  bool            `json:"dragging"`
	Active    *selection.Rect `json:"active,omitempty"`
	Committed *selection.Rect `json:"committed,omitempty"`
}

type wsError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (inst *instance) ensureBoard(w, h int) {
	if inst.board == nil {
		board, err := selection.NewBoard(w, h, boardStroke)
		if err != nil {
			return
		}
		inst.board = board
		return
	}
	_ = inst.board.Resize(w, h)
}

// offsetResults shifts detections that ran on a cropped region back into
// full-frame coordinates.
func offsetResults(results map[string][]iface.Result, dx, dy float32) {
	for class, list := range results {
		for i := range list {
			list[i].Box.LT.X += dx
			list[i].Box.LT.Y += dy
			list[i].Box.RT.X += dx
			list[i].Box.RT.Y += dy
			list[i].Box.RB.X += dx
			list[i].Box.RB.Y += dy
			list[i].Box.LB.X += dx
			list[i].Box.LB.Y += dy
			list[i].Center.X += dx
			list[i].Center.Y += dy
		}
		results[class] = list
	}
}

func handleFrame(inst *instance, b64 string) any {
	mat, err := iface.Base64ToMat(b64)
	if err != nil {
		return wsError{Type: "error", Message: fmt.Sprintf("invalid image: %v", err)}
	}
	defer mat.Close()
	monitor.WSFrames.Inc()

	inst.ensureBoard(mat.Cols(), mat.Rows())

	var region *selection.Rect
	if inst.board != nil {
		region = inst.board.Committed()
	}

	var result iface.RetData
	if region != nil && region.W > 0 && region.H > 0 {
		roi := mat.Region(image.Rect(region.X, region.Y, region.X+region.W+1, region.Y+region.H+1))
		// Backends assume contiguous data; a Region view is not.
		crop := roi.Clone()
		_ = roi.Close()
		result = inst.worker.detector.Detect(crop)
		_ = crop.Close()
	} else {
		result = inst.worker.detector.Detect(mat)
	}
	if !result.Success {
		return wsError{Type: "error", Message: fmt.Sprintf("inference error: %v", result.Data)}
	}
	results, ok := result.Data.(map[string][]iface.Result)
	if !ok {
		return wsError{Type: "error", Message: fmt.Sprintf("unexpected result type %T", result.Data)}
	}
	if region != nil && region.W > 0 && region.H > 0 {
		offsetResults(results, float32(region.X), float32(region.Y))
	}
	monitor.DetectSeconds.Observe(result.InferMs / 1000.0)
	if histStore != nil {
		for class, list := range results {
			for _, r := range list {
				_ = histStore.RecordEvent(inst.id, class, r.Conf, result.InferMs)
			}
		}
	}

	annotate.DrawDetections(&mat, results, palette)
	annotated, err := iface.MatToBase64JPEG(mat)
	if err != nil {
		return wsError{Type: "error", Message: fmt.Sprintf("encode annotated frame: %v", err)}
	}
	return wsResult{
		Type:      "result",
		Results:   results,
		Annotated: annotated,
		InferMs:   result.InferMs,
	}
}

func handlePointer(inst *instance, kindName string, x, y int) any {
	kind, err := selection.ParsePointerKind(kindName)
	if err != nil {
		return wsError{Type: "error", Message: err.Error()}
	}
	if inst.board == nil {
		inst.ensureBoard(defaultBoardW, defaultBoardH)
	}
	if inst.board == nil {
		return wsError{Type: "error", Message: "selection board unavailable"}
	}
	upd := inst.board.Pointer(kind, x, y)
	if upd.Committed != nil && histStore != nil {
		_, _ = histStore.RecordSelection(inst.id, *upd.Committed)
	}
	return wsSelection{
		Type:      "selection",
		Dragging:  upd.Dragging,
		Active:    upd.Active,
		Committed: upd.Committed,
	}
}

func handleRegion(inst *instance, rect *selection.Rect) any {
	if inst.board == nil {
		inst.ensureBoard(defaultBoardW, defaultBoardH)
	}
	if inst.board == nil {
		return wsError{Type: "error", Message: "selection board unavailable"}
	}
	if rect == nil {
		inst.board.ClearRegion()
		return wsSelection{Type: "selection"}
	}
	set := inst.board.SetRegion(*rect)
	if histStore != nil {
		_, _ = histStore.RecordSelection(inst.id, set)
	}
	return wsSelection{Type: "selection", Committed: &set}
}

func serveSession(conn *websocket.Conn, inst *instance) {
	startIdleMonitor(inst)
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			releaseInstance(inst.id)
			logger.S().Infof("Connection closed for session %s: %v", inst.id, err)
			return
		}
		inst.touch()
		if mt != websocket.TextMessage {
			_ = conn.WriteJSON(wsError{Type: "error", Message: "unsupported message type"})
			continue
		}

		var req wsRequest
		if err := json.Unmarshal(msg, &req); err != nil || req.Type == "" {
			// Compatibility path: plain text is a bare base64 frame.
			req = wsRequest{Type: "frame", Data: string(msg)}
		}

		var reply any
		switch req.Type {
		case "frame":
			reply = handleFrame(inst, req.Data)
		case "pointer":
			reply = handlePointer(inst, req.Kind, req.X, req.Y)
		case "region":
			reply = handleRegion(inst, req.Rect)
		default:
			reply = wsError{Type: "error", Message: fmt.Sprintf("unknown message type %q", req.Type)}
		}
		if err := conn.WriteJSON(reply); err != nil {
			releaseInstance(inst.id)
			return
		}
	}
}

func setupRouter() *gin.Engine {
	r := gin.Default()
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.POST("/api/workers/init/:count", func(c *gin.Context) {
		countStr := c.Param("count")
		var count int
		_, err := fmt.Sscanf(countStr, "%d", &count)
		if err != nil || count <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid count"})
			return
		}

		var initParam EngineParam
		if err := c.ShouldBindJSON(&initParam); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if initParam.Conf == 0 {
			initParam.Conf = 0.5
		}
		if initParam.Iou == 0 {
			initParam.Iou = 0.5
		}
		if initParam.Names == nil {
			initParam.Names = []string{}
		}

		logger.S().Infof("Creating %d workers with param: %+v", count, initParam)
		ids := make([]string, 0, count)
		for i := 0; i < count; i++ {
			id, err := addWorker(initParam.Description, engine.SingleThread, initParam)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "data": ids})
				return
			}
			ids = append(ids, id)
		}

		c.JSON(http.StatusOK, gin.H{"data": ids})
	})
	r.GET("/api/workers/check/:id", func(c *gin.Context) {
		id := c.Param("id")
		seqMu.RLock()
		w, exists := workers[id]
		seqMu.RUnlock()
		if !exists {
			c.JSON(http.StatusNotFound, gin.H{"error": "Worker not found"})
			return
		}
		w.mu.Lock()
		state := w.State
		description := w.Description
		engineType := w.EngineType
		w.mu.Unlock()
		retData := map[string]any{
			"state":       state,
			"description": description,
			"engineType":  engineType,
			"backend":     w.detector.BackendName(),
		}
		c.JSON(http.StatusOK, gin.H{"data": retData})
	})
	r.POST("/api/workers/alloc", func(c *gin.Context) {
		sessionID, workerID, err := allocInstance()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "All workers are busy"})
			return
		}
		if histStore != nil {
			_ = histStore.RecordSession(sessionID, c.ClientIP())
		}
		c.JSON(http.StatusOK, gin.H{
			"sessionID": sessionID,
			"workerID":  workerID,
			"wsURL":     fmt.Sprintf("ws://%s/ws/%s", c.Request.Host, sessionID),
			"timeoutMs": idleTimeout.Milliseconds(),
		})
	})
	r.POST("/api/workers/:sessionID/release", func(c *gin.Context) {
		sessionID := c.Param("sessionID")
		if !releaseInstance(sessionID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": "Session released"})
	})
	r.GET("/api/sessions", func(c *gin.Context) {
		sessionMu.RLock()
		list := make([]map[string]any, 0, len(sessions))
		for id, inst := range sessions {
			list = append(list, map[string]any{
				"sessionID": id,
				"idleMs":    inst.idleFor().Milliseconds(),
			})
		}
		sessionMu.RUnlock()
		c.JSON(http.StatusOK, gin.H{"data": list})
	})
	r.GET("/ws/:sessionID", func(c *gin.Context) {
		sessionID := c.Param("sessionID")
		sessionMu.RLock()
		inst, exists := sessions[sessionID]
		sessionMu.RUnlock()
		if !exists {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		inst.conn = conn
		conn.SetReadLimit(20 * 1024 * 1024)
		serveSession(conn, inst)
	})
	r.POST("/api/models/upload", func(c *gin.Context) {
		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed: " + err.Error()})
			return
		}
		dir := "models"
		if catalog != nil {
			dir = catalog.Dir()
		}
		// Client-supplied names must not escape the models dir.
		modelPath := filepath.Join(dir, filepath.Base(file.Filename))
		if err := c.SaveUploadedFile(file, modelPath); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file: " + err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": modelPath})
	})
	r.GET("/api/models", func(c *gin.Context) {
		if catalog == nil {
			c.JSON(http.StatusOK, gin.H{"data": []models.ModelInfo{}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": catalog.List()})
	})
	r.GET("/api/history/selections", func(c *gin.Context) {
		if histStore == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history store disabled"})
			return
		}
		rows, err := histStore.ListSelections(queryLimit(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": rows})
	})
	r.GET("/api/history/events", func(c *gin.Context) {
		if histStore == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history store disabled"})
			return
		}
		rows, err := histStore.ListEvents(queryLimit(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": rows})
	})
	return r
}

func queryLimit(c *gin.Context) int {
	var limit int
	if _, err := fmt.Sscanf(c.DefaultQuery("limit", "100"), "%d", &limit); err != nil || limit <= 0 {
		return 100
	}
	return limit
}

func startHTTP(port int) *http.Server {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: setupRouter(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.S().Errorf("HTTP server error: %v", err)
		}
	}()
	logger.S().Infof("HTTP server listening on :%d", port)
	return srv
}
