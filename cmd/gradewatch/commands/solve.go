package commands

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"gradewatch/internal/captcha"
	"gradewatch/internal/config"
	"gradewatch/internal/telemetry"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(solveCmd)
}

var solveCmd = &cobra.Command{
	Use:   "solve <image.png>",
	Short: "Reads a saved CAPTCHA image with the configured OCR backend and prints the answer.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sec, err := loadSecrets(cfg)
		if err != nil {
			return err
		}
		ocrConfig := config.OCR(cfg, sec)
		if !ocrConfig.Configured() {
			return errors.New("OCR is not configured, set ocr.base_url, ocr.model and the api key first")
		}

		image, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		ocr := captcha.NewOCR(ocrConfig, telemetry.SlogAPI{})
		raw := ocr.RequestText(cmd.Context(), base64.StdEncoding.EncodeToString(image))
		if raw == "" {
			return errors.New("the OCR backend returned no text")
		}

		fmt.Printf("raw:        %s\n", raw)
		fmt.Printf("normalized: %s\n", captcha.Normalize(raw))
		answer := captcha.SolveExpression(raw)
		if answer == "" {
			return fmt.Errorf("could not solve %q", raw)
		}
		fmt.Printf("answer:     %s\n", answer)
		return nil
	},
}
