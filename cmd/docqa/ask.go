package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aihub/docqa/app/bootstrap"
	"github.com/aihub/docqa/internal/knowledge"
	"github.com/aihub/docqa/internal/services"
)

// askCMD 本地摄取一个文件并回答问题，不启动HTTP服务
func askCMD() *cobra.Command {
	var apiKey string
	var ask = &cobra.Command{
		Use:   "ask <file> <question> [question...]",
		Short: "Ingest a local document and answer questions about it",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			off := false
			app, err := bootstrap.Init(bootstrap.Options{Warmup: &off})
			if err != nil {
				return err
			}
			defer app.Shutdown()

			var qa *services.QAService
			if err := app.Container.Invoke(func(s *services.QAService) { qa = s }); err != nil {
				return err
			}
			return runAsk(cmd.Context(), qa, args[0], args[1:], apiKey, cmd.OutOrStdout())
		},
	}
	ask.Flags().StringVar(&apiKey, "api-key", getenv("GEMINI_API_KEY", os.Getenv("GOOGLE_API_KEY")), "generation API key")

	return ask
}

func runAsk(ctx context.Context, qa *services.QAService, file string, questions []string, apiKey string, out io.Writer) error {
	// 摄取结束后会删除上传文件，先复制一份
	path, err := copyToTemp(file)
	if err != nil {
		return err
	}

	resp, err := qa.Upload(ctx, services.UploadRequest{
		Path:       path,
		Filename:   filepath.Base(file),
		Kind:       knowledge.KindFromFilename(file),
		Credential: apiKey,
	})
	if err != nil {
		return err
	}

	var last services.ProgressEvent
	for event := range qa.Progress(ctx, resp.SessionID) {
		if event.Step == services.StepKeepalive {
			continue
		}
		fmt.Fprintf(out, "[%s] %s\n", event.Step, event.Message)
		last = event
	}
	if last.Step != services.StepComplete {
		return fmt.Errorf("ingestion did not complete: %s", last.Message)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	for _, question := range questions {
		result, err := qa.Ask(ctx, services.AskRequest{SessionID: resp.SessionID, Question: question})
		if err != nil {
			return err
		}
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
	return qa.Clear(ctx, resp.SessionID)
}

func copyToTemp(file string) (string, error) {
	src, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "docqa-*"+filepath.Ext(file))
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}
