// Command lanereplay runs one lane tracker over a video file and prints one
// JSON line per frame.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	"os"

	"LaneDetServer/config"
	"LaneDetServer/engine"
	"LaneDetServer/geometry"
	"LaneDetServer/lane"
	"LaneDetServer/logger"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

type frameLine struct {
	Frame  int                  `json:"frame"`
	Left   geometry.LineSegment `json:"left"`
	Right  geometry.LineSegment `json:"right"`
	ROI    image.Rectangle      `json:"roi"`
	Locked [2]bool              `json:"locked"`
	Error  string               `json:"error,omitempty"`
}

func main() {
	video := flag.String("video", "", "input video file")
	configPath := flag.String("config", "config.yaml", "yaml config for tracker and extractor parameters")
	maxFrames := flag.Int("frames", 0, "stop after this many frames, 0 reads the whole file")
	flag.Parse()

	if *video == "" {
		fmt.Fprintln(os.Stderr, "usage: lanereplay -video <file> [-config config.yaml] [-frames N]")
		os.Exit(2)
	}
	if err := run(*video, *configPath, *maxFrames); err != nil {
		logger.Log().Error("replay failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.Default()
	} else if err != nil {
		return cfg, err
	}
	if err := cfg.Engine().Validate(); err != nil {
		return cfg, err
	}
	return cfg, logger.Init(cfg.LogMode)
}

func run(video, configPath string, maxFrames int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	capture, err := gocv.VideoCaptureFile(video)
	if err != nil {
		return fmt.Errorf("open %s: %w", video, err)
	}
	defer capture.Close()

	tracker := lane.NewTracker(engine.NewHoughExtractor(cfg.Extractor), cfg.Tracker)
	out := json.NewEncoder(os.Stdout)
	mat := gocv.NewMat()
	defer mat.Close()

	n := 0
	for maxFrames <= 0 || n < maxFrames {
		if ok := capture.Read(&mat); !ok || mat.Empty() {
			break
		}
		line := frameLine{Frame: n}
		n++

		frame, err := engine.MatToGray(mat)
		if err != nil {
			line.Error = err.Error()
			if err := out.Encode(line); err != nil {
				return err
			}
			continue
		}
		lanes, err := tracker.Detect(frame)
		if err != nil {
			line.Error = err.Error()
		} else {
			line.Left, line.Right = lanes.Left, lanes.Right
		}
		st := tracker.State()
		line.ROI = tracker.LastROI()
		for _, side := range lane.Sides {
			line.Locked[side] = st.Side(side).Locked
		}
		if err := out.Encode(line); err != nil {
			return err
		}
	}
	logger.Log().Info("replay finished", zap.String("video", video), zap.Int("frames", n))
	return nil
}
