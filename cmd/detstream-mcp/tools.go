package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"strings"

	_ "image/jpeg"

	"DetStreamServer/annotate"
	iface "DetStreamServer/interface"
	"DetStreamServer/selection"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	defaultBoard  = "default"
	defaultBoardW = 640
	defaultBoardH = 480
)

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("detect_frame",
		mcp.WithDescription("Run object detection on a base64-encoded JPEG or PNG frame"),
		mcp.WithString("image", mcp.Description("Base64 image data, with or without a data: URI prefix"), mcp.Required()),
	), s.handleDetectFrame)

	s.mcp.AddTool(mcp.NewTool("select_region",
		mcp.WithDescription("Send a pointer event to a selection board and report the drag state. A down/move/up sequence commits a rectangle; out cancels the drag."),
		mcp.WithString("kind", mcp.Description("Pointer event kind: down, move, up or out"), mcp.Required()),
		mcp.WithNumber("x", mcp.Description("Pointer X in board pixels"), mcp.Required()),
		mcp.WithNumber("y", mcp.Description("Pointer Y in board pixels"), mcp.Required()),
		mcp.WithString("board", mcp.Description("Board name (optional, defaults to \"default\")")),
		mcp.WithNumber("width", mcp.Description("Board width in pixels (optional, defaults to 640)")),
		mcp.WithNumber("height", mcp.Description("Board height in pixels (optional, defaults to 480)")),
	), s.handleSelectRegion)

	s.mcp.AddTool(mcp.NewTool("crop_region",
		mcp.WithDescription("Crop a rectangle out of a base64 image and return it as base64 PNG"),
		mcp.WithString("image", mcp.Description("Base64 image data"), mcp.Required()),
		mcp.WithNumber("x", mcp.Description("Left edge of the crop"), mcp.Required()),
		mcp.WithNumber("y", mcp.Description("Top edge of the crop"), mcp.Required()),
		mcp.WithNumber("width", mcp.Description("Crop width in pixels"), mcp.Required()),
		mcp.WithNumber("height", mcp.Description("Crop height in pixels"), mcp.Required()),
		mcp.WithNumber("max_edge", mcp.Description("Downscale so the longer edge fits this many pixels (optional)")),
	), s.handleCropRegion)

	s.mcp.AddTool(mcp.NewTool("read_region_text",
		mcp.WithDescription("OCR the text inside a rectangle of a base64 image"),
		mcp.WithString("image", mcp.Description("Base64 image data"), mcp.Required()),
		mcp.WithNumber("x", mcp.Description("Left edge of the region"), mcp.Required()),
		mcp.WithNumber("y", mcp.Description("Top edge of the region"), mcp.Required()),
		mcp.WithNumber("width", mcp.Description("Region width in pixels"), mcp.Required()),
		mcp.WithNumber("height", mcp.Description("Region height in pixels"), mcp.Required()),
		mcp.WithString("lang", mcp.Description("Tesseract language code (optional, defaults to eng)")),
	), s.handleReadRegionText)
}

func (s *Server) handleDetectFrame(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	b64, _ := args["image"].(string)
	if b64 == "" {
		return nil, fmt.Errorf("image is required")
	}
	mat, err := iface.Base64ToMat(b64)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer mat.Close()

	s.mu.Lock()
	ret := s.detector.Detect(mat)
	s.mu.Unlock()
	if !ret.Success {
		return nil, fmt.Errorf("detect: %v", ret.Data)
	}
	results, _ := ret.Data.(map[string][]iface.Result)
	return jsonResult(map[string]any{
		"results": results,
		"inferMs": ret.InferMs,
	})
}

func (s *Server) handleSelectRegion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	kindName, _ := args["kind"].(string)
	kind, err := selection.ParsePointerKind(kindName)
	if err != nil {
		return nil, err
	}
	x, ok := args["x"].(float64)
	if !ok {
		return nil, fmt.Errorf("x is required")
	}
	y, ok := args["y"].(float64)
	if !ok {
		return nil, fmt.Errorf("y is required")
	}
	name, _ := args["board"].(string)
	if name == "" {
		name = defaultBoard
	}
	width := int(numArg(args, "width", defaultBoardW))
	height := int(numArg(args, "height", defaultBoardH))

	s.mu.Lock()
	defer s.mu.Unlock()
	board, err := s.board(name, width, height)
	if err != nil {
		return nil, err
	}
	up := board.Pointer(kind, int(x), int(y))
	return jsonResult(map[string]any{
		"board":     name,
		"dragging":  up.Dragging,
		"active":    up.Active,
		"committed": up.Committed,
	})
}

func (s *Server) handleCropRegion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	img, err := imageArg(args)
	if err != nil {
		return nil, err
	}
	r, err := rectArg(args)
	if err != nil {
		return nil, err
	}
	crop, err := annotate.CropROI(img, r)
	if err != nil {
		return nil, err
	}
	if maxEdge := int(numArg(args, "max_edge", 0)); maxEdge > 0 {
		crop = annotate.Thumbnail(crop, maxEdge)
	}
	b64, err := encodeBase64PNG(crop)
	if err != nil {
		return nil, err
	}
	b := crop.Bounds()
	return jsonResult(map[string]any{
		"image":  b64,
		"width":  b.Dx(),
		"height": b.Dy(),
	})
}

func (s *Server) handleReadRegionText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	img, err := imageArg(args)
	if err != nil {
		return nil, err
	}
	r, err := rectArg(args)
	if err != nil {
		return nil, err
	}
	lang, _ := args["lang"].(string)
	text, err := annotate.ReadRegionText(img, r, lang)
	if err != nil {
		return nil, err
	}
	return textResult(text), nil
}

// numArg returns the named number argument, or def when absent.
func numArg(args map[string]any, key string, def float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return def
}

// rectArg reads the x/y/width/height arguments as an image rectangle.
func rectArg(args map[string]any) (image.Rectangle, error) {
	var vals [4]float64
	for i, key := range []string{"x", "y", "width", "height"} {
		v, ok := args[key].(float64)
		if !ok {
			return image.Rectangle{}, fmt.Errorf("%s is required", key)
		}
		vals[i] = v
	}
	if vals[2] <= 0 || vals[3] <= 0 {
		return image.Rectangle{}, fmt.Errorf("width and height must be positive")
	}
	x, y := int(vals[0]), int(vals[1])
	return image.Rect(x, y, x+int(vals[2]), y+int(vals[3])), nil
}

// imageArg decodes the base64 image argument. A data: URI prefix is allowed.
func imageArg(args map[string]any) (image.Image, error) {
	b64, _ := args["image"].(string)
	if b64 == "" {
		return nil, fmt.Errorf("image is required")
	}
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func encodeBase64PNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
