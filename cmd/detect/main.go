// Command detect classifies an image as real or synthetic and reports the
// calibrated verdict.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/png"
	"os"

	"synthdetect/internal/config"
	"synthdetect/internal/detector"
	"synthdetect/internal/imaging"
	"synthdetect/internal/version"
	"synthdetect/pkg/colorutil"
	"synthdetect/pkg/tensor"
)

func main() {
	imagePath := flag.String("image", "", "Path to image (PNG, JPEG, or TIFF)")
	configPath := flag.String("config", "", "Optional TOML config path")
	threshold := flag.Float64("threshold", 0, "Override uncertainty threshold (0 keeps configured value)")
	heatmapPath := flag.String("heatmap", "", "Write the saliency heatmap to this PNG path")
	checkpointPath := flag.String("checkpoint", "", "Restore model state from this checkpoint before predicting")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("detect %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)
		return
	}

	if *imagePath == "" {
		fmt.Println("Usage: detect -image <path> [-config cfg.toml] [-threshold 0.75] [-heatmap out.png] [-checkpoint state.json]")
		os.Exit(1)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	img, err := imaging.Load(*imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load image: %v\n", err)
		os.Exit(1)
	}
	bounds := img.Bounds()
	fmt.Printf("Loaded image: %dx%d pixels\n", bounds.Dx(), bounds.Dy())

	det := detector.New(cfg, nil, nil)
	if *checkpointPath != "" {
		if err := det.Restore(*checkpointPath); err != nil {
			fmt.Fprintf(os.Stderr, "Continuing with fresh state: %v\n", err)
		}
	}
	if *threshold > 0 {
		det.SetUncertaintyThreshold(*threshold)
	}

	input := imaging.Prepare(img, cfg.Model.InputSize)
	prediction := det.Predict(input, *heatmapPath != "")

	fmt.Printf("\nVerdict: %s\n", prediction.Verdict)
	fmt.Printf("Confidence: %.3f\n", prediction.Confidence)
	fmt.Printf("P(real)=%.3f  P(synthetic)=%.3f\n",
		prediction.Probabilities[0], prediction.Probabilities[1])
	fmt.Printf("Raw logits: (%.4f, %.4f)  calibrated: (%.4f, %.4f)  T=%.3f\n",
		prediction.Logits[0], prediction.Logits[1],
		prediction.CalibratedLogits[0], prediction.CalibratedLogits[1],
		det.Temperature())

	if *heatmapPath != "" {
		if prediction.Heatmap == nil {
			fmt.Fprintln(os.Stderr, "No heatmap produced")
		} else if err := writeHeatmap(*heatmapPath, prediction.Heatmap); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write heatmap: %v\n", err)
		} else {
			fmt.Printf("Heatmap written to %s (%dx%d)\n",
				*heatmapPath, prediction.Heatmap.W, prediction.Heatmap.H)
		}
	}
}

// writeHeatmap renders a normalized saliency map as a cold-to-hot PNG.
func writeHeatmap(path string, hm *tensor.Plane) error {
	out := image.NewRGBA(image.Rect(0, 0, hm.W, hm.H))
	for y := 0; y < hm.H; y++ {
		for x := 0; x < hm.W; x++ {
			out.SetRGBA(x, y, colorutil.Heat(hm.At(y, x)))
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, out)
}
