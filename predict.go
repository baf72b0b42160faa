package main

import (
	"encoding/json"
	"fmt"
	"os"

	"CascadeDetServer/imaging/cv"

	"github.com/spf13/cobra"
)

var imagePath string

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Run the cascade once on an image file and print the report as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		frame, err := cv.Decode(data)
		if err != nil {
			return err
		}
		defer frame.Close()

		_, c, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Registry().Close()

		res, err := c.Predict(cmd.Context(), frame)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res.Report())
	},
}

func init() {
	predictCmd.Flags().StringVarP(&imagePath, "image", "i", "", "image file to predict on")
	_ = predictCmd.MarkFlagRequired("image")
}
