package cmd

import (
	"encoding/json"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aksestok/dagster-cloud/internal/observability"
	"github.com/aksestok/dagster-cloud/pkg/insights"
)

var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Upload cost data to Dagster Cloud insights",
}

var (
	insightsMetric   string
	insightsCosts    string
	insightsS3Bucket string
	insightsS3Prefix string
)

var insightsUploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload a cost file",
	Long: `Upload cost records to insights. Records are read from a JSON file
holding a list of {opaque_id, cost, query_id} objects, serialized to a
columnar file, and posted to a one-time signed destination.

With --s3-bucket the file is written directly to your own bucket instead.`,
	RunE: runInsightsUpload,
}

func init() {
	rootCmd.AddCommand(insightsCmd)
	insightsCmd.AddCommand(insightsUploadCmd)

	f := insightsUploadCmd.Flags()
	f.StringVar(&insightsMetric, "metric", "", "Metric name applied to every record (required)")
	f.StringVar(&insightsCosts, "costs", "", "Path to the cost records JSON file (required)")
	f.StringVar(&insightsS3Bucket, "s3-bucket", "", "Export to this bucket instead of the signed-URL path")
	f.StringVar(&insightsS3Prefix, "s3-prefix", "", "Key prefix for --s3-bucket exports")
	_ = insightsUploadCmd.MarkFlagRequired("metric")
	_ = insightsUploadCmd.MarkFlagRequired("costs")
}

func runInsightsUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	data, err := os.ReadFile(insightsCosts)
	if err != nil {
		observability.CLILogger.Error("Failed to read cost file", zap.String("path", insightsCosts), zap.Error(err))
		return exitError(foundry.ExitFileNotFound, "Failed to read cost file", err)
	}

	var records []insights.CostRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cost file", err)
	}

	uploader := insights.NewUploader()

	if insightsS3Bucket != "" {
		sink, err := insights.NewS3Sink(ctx, insights.S3SinkConfig{
			Bucket: insightsS3Bucket,
			Prefix: insightsS3Prefix,
		})
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid S3 sink configuration", err)
		}
		key := time.Now().UTC().Format("2006/01/02") + "/" + insightsMetric + ".parquet"
		if err := uploader.ExportCostInformation(ctx, sink, key, insightsMetric, records); err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Cost export failed", err)
		}
		observability.CLILogger.Info("Exported cost file",
			zap.String("bucket", insightsS3Bucket), zap.String("key", key), zap.Int("records", len(records)))
		return nil
	}

	cfg, err := loadAPIConfig()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cloud API configuration", err)
	}
	agent, err := newAgentInstance(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cloud API configuration", err)
	}

	if err := uploader.PutCostInformation(ctx, agent, insightsMetric, records); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Cost upload failed", err)
	}
	observability.CLILogger.Info("Uploaded cost file",
		zap.String("metric", insightsMetric), zap.Int("records", len(records)))
	return nil
}
