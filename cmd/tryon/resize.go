package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tryon/internal/client"
	"tryon/internal/imagedata"
	"tryon/internal/imageprep"
)

type resizeFlags struct {
	in                 string
	out                string
	width              int
	height             int
	fit                string
	quality            int
	format             string
	withoutEnlargement bool
}

func resizeCmd() *cobra.Command {
	var f resizeFlags
	cmd := &cobra.Command{
		Use:     "resize",
		Short:   "Resize an image on the server",
		Example: `  tryon resize --in photo.jpg --width 800 --fit inside --format jpeg --out small.jpg`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl := client.New(viper.GetString("server"),
				client.WithTimeout(viper.GetDuration("timeout")),
				client.WithLogger(logger))
			return runResize(cmd.Context(), cl, f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&f.in, "in", "i", "", "source image (required)")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "output file (required)")
	cmd.Flags().IntVar(&f.width, "width", 0, "target width in pixels")
	cmd.Flags().IntVar(&f.height, "height", 0, "target height in pixels")
	cmd.Flags().StringVar(&f.fit, "fit", "", "cover, contain, fill, inside or outside")
	cmd.Flags().IntVar(&f.quality, "quality", 0, "output quality 1-100")
	cmd.Flags().StringVar(&f.format, "format", "", "jpeg or png")
	cmd.Flags().BoolVar(&f.withoutEnlargement, "without-enlargement", false, "never upscale the source")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func (f resizeFlags) options() imageprep.ResizeOptions {
	opts := imageprep.ResizeOptions{
		Fit:                f.fit,
		Format:             f.format,
		WithoutEnlargement: f.withoutEnlargement,
	}
	if f.width > 0 {
		opts.Width = &f.width
	}
	if f.height > 0 {
		opts.Height = &f.height
	}
	if f.quality > 0 {
		opts.Quality = &f.quality
	}
	return opts
}

func runResize(ctx context.Context, cl *client.Client, f resizeFlags, stdout io.Writer) error {
	blob, err := os.ReadFile(f.in)
	if err != nil {
		return fmt.Errorf("read source image: %w", err)
	}
	res, err := cl.Resize(ctx, blob, f.options())
	if err != nil {
		return fmt.Errorf("resize: %w", err)
	}
	data, err := imagedata.DecodeLoose(res.ResizedB64)
	if err != nil {
		return fmt.Errorf("decode resized image: %w", err)
	}
	if err := os.WriteFile(f.out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", f.out, err)
	}

	info := res.ResizeInfo
	fmt.Fprintf(stdout, "%s: %dx%d -> %dx%d %s, %d -> %d bytes (%.2fx)\n",
		f.out, info.OriginalWidth, info.OriginalHeight, info.NewWidth, info.NewHeight,
		res.Metadata.Format, info.OriginalSize, info.NewSize, info.CompressionRatio)
	return nil
}
