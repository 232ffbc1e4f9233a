//go:generate protoc --go_out=. --go_opt=paths=source_relative --go-grpc_out=. --go-grpc_opt=paths=source_relative detstream.proto

package proto

import (
	"context"
	"fmt"
	"io"
	"maps"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"DetStreamServer/engine"
	iface "DetStreamServer/interface"
	"DetStreamServer/logger"
	"DetStreamServer/monitor"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

// WorkerID is one registered detector sequence.
type WorkerID struct {
	detector    iface.Backend
	Description string
	EngineType  int
	BackendName string
}

var (
	DSequences map[string]WorkerID
	seqMu      sync.Mutex
	mapMu      sync.RWMutex
)

// ModelsDir is where UploadModel stores incoming files.
var ModelsDir = "models"

func (d *WorkerID) add2Seq(detector iface.Backend, description string, engineType int, backendName string) string {
	d.detector = detector
	d.Description = description
	d.EngineType = engineType
	d.BackendName = backendName
	UUID := uuid.New().String()
	DSequences[UUID] = *d
	logger.Log().Info(fmt.Sprintf("Detector %s added with ID %s", description, UUID))
	return UUID
}

type JobPackage struct {
	worker iface.Backend
	image  []byte
	Result chan jobResult
}

type jobResult struct {
	Data iface.RetData
}

var JobQueue chan JobPackage

var CloseChannel chan bool

func StartWorker(workerNum int) {
	for i := 0; i < workerNum; i++ {
		go runWorker(i)
	}
}

func runWorker(workerID int) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error(fmt.Sprintf("Worker %d panic: %v. Restarting in 1s...", workerID, r))
			time.Sleep(1 * time.Second)
			go runWorker(workerID)
		}
	}()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	logger.Log().Info(fmt.Sprintf("---Worker %d created", workerID))
	for job := range JobQueue {
		imgData, err := iface.BytesToMat(job.image)
		if err != nil {
			job.Result <- jobResult{Data: iface.RetData{Success: false, Data: err.Error()}}
		} else {
			result := job.worker.Detect(imgData)
			if result.Success {
				monitor.DetectSeconds.Observe(result.InferMs / 1000.0)
			}
			job.Result <- jobResult{Data: result}
		}
		if err := imgData.Close(); err != nil {
			logger.Log().Error(fmt.Sprintf("Worker %d: error closing imgData: %v", workerID, err))
		}
	}
}

type Server struct {
	UnimplementedDetectServiceServer
}

func (s *Server) InitEngine(ctx context.Context, req *InitEngineRequest) (*InitEngineResponse, error) {
	monitor.GRPCTotal.Inc()
	if req.Iou > 1.0 || req.Iou < 0.0 {
		return nil, fmt.Errorf("IoU must be between 0.0 and 1.0, got %f", req.Iou)
	}
	if req.Confidence > 1.0 || req.Confidence < 0.0 {
		return nil, fmt.Errorf("confidence must be between 0.0 and 1.0, got %f", req.Confidence)
	}
	if int(req.EngineType) == engine.MultiThread {
		return nil, fmt.Errorf("multi-threaded engines are not supported yet")
	}

	detector := engine.Detector{}
	backendName := req.Backend
	if backendName == "" {
		detector.New()
	} else if !detector.NewWithBackend(backendName) {
		return nil, fmt.Errorf("unknown backend %q", backendName)
	}
	names := iface.NamesConf{IsFile: false, Data: req.Names}

	seqMu.Lock()
	ok, err := detector.LoadModel(req.ModelPath, names, req.Confidence, req.Iou, req.UseGpu)
	seqMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("load model %s: %v", req.ModelPath, err)
	}

	seqdet := WorkerID{}
	mapMu.Lock()
	Id := seqdet.add2Seq(&detector, req.Description, int(req.EngineType), detector.BackendName())
	mapMu.Unlock()
	logger.Log().Info("Initialized new engine",
		zap.String("ID", Id),
		zap.String("ModelPath", req.ModelPath),
		zap.String("Backend", detector.BackendName()),
		zap.Float32("Confidence", req.Confidence),
		zap.Float32("IoU", req.Iou),
		zap.Bool("UseGPU", req.UseGpu))
	return &InitEngineResponse{
		Success: true,
		Id:      Id,
		Message: "Successfully initialized engine",
	}, nil
}

func (s *Server) Inference(ctx context.Context, req *InferenceRequest) (*InferenceResponse, error) {
	monitor.GRPCTotal.Inc()
	UUID := req.Id
	mapMu.RLock()
	detector, exists := DSequences[UUID]
	mapMu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("detector with ID %s not found", UUID)
	}
	inferResult := make(chan jobResult)
	defer close(inferResult)
	JobQueue <- JobPackage{
		image:  req.ImgData,
		worker: detector.detector,
		Result: inferResult,
	}
	results := <-inferResult
	if results.Data.Data == nil {
		logger.Log().Error("detector returned nil result")
		return &InferenceResponse{
			Success: false,
			Results: make([]*SingleResult, 0),
		}, nil
	}
	switch v := results.Data.Data.(type) {
	case string:
		logger.Log().Error("detector returned error result", zap.String("data", v))
		return &InferenceResponse{
			Success: false,
			Results: make([]*SingleResult, 0),
		}, nil
	case map[string][]iface.Result:
		singleResults := make([]*SingleResult, 0, len(v))
		for class, resList := range v {
			for _, res := range resList {
				resBox := make([]*Position, 4)
				resBox[0] = &Position{X: int32(res.Box.LT.X), Y: int32(res.Box.LT.Y)}
				resBox[1] = &Position{X: int32(res.Box.RT.X), Y: int32(res.Box.RT.Y)}
				resBox[2] = &Position{X: int32(res.Box.RB.X), Y: int32(res.Box.RB.Y)}
				resBox[3] = &Position{X: int32(res.Box.LB.X), Y: int32(res.Box.LB.Y)}
				singleResults = append(singleResults, &SingleResult{
					Name:       class,
					Confidence: res.Conf,
					Box:        resBox,
					Center:     &Position{X: int32(res.Center.X), Y: int32(res.Center.Y)},
				})
			}
		}
		return &InferenceResponse{
			Success: true,
			Results: singleResults,
			InferMs: results.Data.InferMs,
		}, nil
	default:
		logger.Log().Error(fmt.Sprintf("Unknown type: %T", v))
		return &InferenceResponse{
			Success: false,
			Results: make([]*SingleResult, 0),
		}, fmt.Errorf("unexpected data type in results: %T", results.Data.Data)
	}
}

func (s *Server) DestroyEngine(ctx context.Context, req *DestroyEngineRequest) (*DestroyEngineResponse, error) {
	monitor.GRPCTotal.Inc()
	UUID := req.Id
	mapMu.Lock()
	detector, exists := DSequences[UUID]
	if !exists {
		mapMu.Unlock()
		logger.Log().Error("detector not found with ID", zap.String("ID", UUID))
		return nil, fmt.Errorf("detector with ID %s not found", UUID)
	}
	detector.detector.Destroy()
	delete(DSequences, UUID)
	mapMu.Unlock()
	logger.Log().Info("Destroyed engine", zap.String("ID", UUID))
	return &DestroyEngineResponse{
		Success: true,
		Message: "Detector destroyed successfully",
	}, nil
}

func engineInfoFor(id string, det WorkerID) (*EngineInfo, error) {
	Dconfig := det.detector.CheckConfig()
	names := make([]string, 0)
	switch v := Dconfig.Names.Data.(type) {
	case []string:
		names = v
	case string:
		names = append(names, "From File")
	default:
		return nil, fmt.Errorf("unexpected type for names: %T", Dconfig.Names.Data)
	}
	return &EngineInfo{
		Id:          id,
		Description: det.Description,
		EngineType:  int32(det.EngineType),
		ModelPath:   Dconfig.ModelPath,
		Names:       names,
		Confidence:  Dconfig.Conf,
		Iou:         Dconfig.Iou,
		UseGpu:      Dconfig.UseGPU,
		Backend:     det.BackendName,
	}, nil
}

func (s *Server) CheckEngine(ctx context.Context, req *CheckEngineRequest) (*CheckEngineResponse, error) {
	monitor.GRPCTotal.Inc()
	UUID := req.Id
	mapMu.RLock()
	detector, exists := DSequences[UUID]
	mapMu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("detector with ID %s not found", UUID)
	}
	ret, err := engineInfoFor(UUID, detector)
	if err != nil {
		logger.Log().Error(err.Error())
		return nil, err
	}
	return &CheckEngineResponse{
		Success:    true,
		EngineInfo: ret,
		Message:    "Detector status retrieved successfully",
	}, nil
}

func (s *Server) CheckAllEngine(ctx context.Context, req *emptypb.Empty) (*CheckAllEngineResponse, error) {
	monitor.GRPCTotal.Inc()
	mapMu.RLock()
	allSeq := maps.Clone(DSequences)
	mapMu.RUnlock()
	engineInfos := make([]*EngineInfo, 0, len(allSeq))
	for id, detector := range allSeq {
		engineInfo, err := engineInfoFor(id, detector)
		if err != nil {
			return nil, err
		}
		engineInfos = append(engineInfos, engineInfo)
	}
	return &CheckAllEngineResponse{
		Success: true,
		Engines: engineInfos,
		Message: "All Detectors status retrieved successfully",
	}, nil
}

func (s *Server) Shutdown(ctx context.Context, req *emptypb.Empty) (*emptypb.Empty, error) {
	monitor.GRPCTotal.Inc()
	go func() {
		time.Sleep(2 * time.Second)
		mapMu.Lock()
		for id, detector := range DSequences {
			detector.detector.Destroy()
			delete(DSequences, id)
		}
		mapMu.Unlock()
		close(JobQueue)
	}()
	CloseChannel <- true
	logger.Log().Warn("Shutting down in 1 second...")
	close(CloseChannel)
	return &emptypb.Empty{}, nil
}

func (s *Server) UploadModel(stream DetectService_UploadModelServer) error {
	monitor.GRPCTotal.Inc()
	var outFile *os.File
	var fileSize int
	var filePath string

	for {
		req, err := stream.Recv()
		if err == io.EOF {
			if outFile != nil {
				outFile.Close()
			}
			logger.Log().Info("Model uploaded", zap.String("path", filePath), zap.Int("bytes", fileSize))
			return stream.SendAndClose(&UploadFileResponse{
				Success:  true,
				Message:  "File uploaded successfully",
				FilePath: filePath,
			})
		}
		if err != nil {
			if outFile != nil {
				outFile.Close()
			}
			return err
		}

		switch payload := req.Data.(type) {
		case *UploadFileRequest_FileInfo:
			fileName := filepath.Base(payload.FileInfo.Name)
			if fileName == "" || fileName == "." || fileName == string(filepath.Separator) {
				return fmt.Errorf("file name cannot be empty")
			}
			if err := os.MkdirAll(ModelsDir, 0755); err != nil {
				return fmt.Errorf("create models dir: %v", err)
			}
			filePath = filepath.Join(ModelsDir, fileName)
			outFile, err = os.Create(filePath)
			if err != nil {
				return err
			}
		case *UploadFileRequest_ChunkData:
			if outFile == nil {
				return fmt.Errorf("file not opened, please send file info first")
			}
			n, writeErr := outFile.Write(payload.ChunkData)
			if writeErr != nil {
				return fmt.Errorf("failed to write chunk data: %v", writeErr)
			}
			fileSize += n
		}
	}
}

func StartGRPCServer(addr int) (*grpc.Server, error) {
	CloseChannel = make(chan bool)
	port := fmt.Sprintf(":%d", addr)
	lis, err := net.Listen("tcp", port)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", port, err)
	}
	s := grpc.NewServer()
	RegisterDetectServiceServer(s, &Server{})
	go func() {
		logger.Log().Info(fmt.Sprintf("gRPC server listening on port %s", port))
		if err := s.Serve(lis); err != nil {
			logger.Log().Error(fmt.Sprintf("gRPC server stopped: %v", err))
		}
	}()
	return s, nil
}
