package detector

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// YOLODetector runs a YOLOv8 ONNX model through OpenCV's DNN module.
type YOLODetector struct {
	mu        sync.Mutex
	net       gocv.Net
	conf      float32
	nms       float32
	inputSize image.Point
}

// NewYOLO loads the model at cfg.ModelPath.
func NewYOLO(cfg Config) (*YOLODetector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("yolo model %s: %v: %w", cfg.ModelPath, err, ErrBackendUnavailable)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("load yolo model %s: %w", cfg.ModelPath, ErrBackendUnavailable)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	size := cfg.InputSize
	if size <= 0 {
		size = 640
	}

	return &YOLODetector{
		net:       net,
		conf:      float32(cfg.Confidence),
		nms:       float32(cfg.NMS),
		inputSize: image.Pt(size, size),
	}, nil
}

// Detect resizes frame to the model input, scales pixels to [0,1] and swaps
// BGR to RGB, then decodes boxes back into frame pixels.
func (d *YOLODetector) Detect(frame *gocv.Mat) ([]Detection, error) {
	if frame == nil || frame.Empty() {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	blob := gocv.BlobFromImage(*frame, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	if output.Empty() {
		return nil, fmt.Errorf("yolo forward pass produced no output: %w", ErrBackendUnavailable)
	}

	return d.parse(output, float32(frame.Cols()), float32(frame.Rows()))
}

// parse decodes the [1, 4+classes, anchors] YOLOv8 output tensor.
func (d *YOLODetector) parse(output gocv.Mat, imgW, imgH float32) ([]Detection, error) {
	dims := output.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("unexpected yolo output shape %v", dims)
	}
	cols, rows := dims[1], dims[2]

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read yolo output: %w", err)
	}

	var (
		boxes       []image.Rectangle
		confidences []float32
		classIDs    []int
	)

	sx := imgW / float32(d.inputSize.X)
	sy := imgH / float32(d.inputSize.Y)

	for i := 0; i < rows; i++ {
		maxScore := float32(0)
		maxClass := 0
		for c := 4; c < cols; c++ {
			if score := data[c*rows+i]; score > maxScore {
				maxScore = score
				maxClass = c - 4
			}
		}
		if maxScore < d.conf {
			continue
		}

		cx := data[0*rows+i]
		cy := data[1*rows+i]
		w := data[2*rows+i]
		h := data[3*rows+i]

		boxes = append(boxes, image.Rect(
			int((cx-w/2)*sx), int((cy-h/2)*sy),
			int((cx+w/2)*sx), int((cy+h/2)*sy),
		))
		confidences = append(confidences, maxScore)
		classIDs = append(classIDs, maxClass)
	}

	if len(boxes) == 0 {
		return nil, nil
	}

	indices := gocv.NMSBoxes(boxes, confidences, d.conf, d.nms)

	out := make([]Detection, 0, len(indices))
	for _, idx := range indices {
		out = append(out, Detection{
			Box:        boxes[idx],
			Confidence: float64(confidences[idx]),
			ClassID:    classIDs[idx],
			Label:      ClassLabel(classIDs[idx]),
		})
	}
	return out, nil
}

func (d *YOLODetector) Name() string { return BackendYOLO }

// Close releases the network.
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// ClassLabel maps a COCO class index to its name.
func ClassLabel(id int) string {
	if id < 0 || id >= len(COCOClasses) {
		return fmt.Sprintf("class_%d", id)
	}
	return COCOClasses[id]
}

// COCOClasses contains the 80 COCO class names.
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}
