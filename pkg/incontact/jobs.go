package incontact

import (
	"context"
	"encoding/csv"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/streamkit/nicesync/pkg/errors"
	"github.com/streamkit/nicesync/pkg/logger"
	"github.com/streamkit/nicesync/pkg/metrics"
	"github.com/streamkit/nicesync/pkg/observability"
	"github.com/streamkit/nicesync/pkg/transform"
)

// Export job states reported by the data-extraction API.
const (
	JobStatusRunning   = "RUNNING"
	JobStatusSucceeded = "SUCCEEDED"
	JobStatusFailed    = "FAILED"
	JobStatusCancelled = "CANCELLED"
	JobStatusExpired   = "EXPIRED"
)

// exportRetryCondition retries transient failures but never rate
// limits: a 429 from the extraction API means the window must be
// abandoned, not hammered.
func exportRetryCondition(err error) bool {
	return errors.IsRetryable(err) && !errors.IsType(err, errors.ErrorTypeRateLimit)
}

// RunExportJob drives one window through the full export protocol:
// create the job, poll it to completion, download the result.
func (c *Client) RunExportJob(ctx context.Context, entity, version string, window Window) ([]map[string]interface{}, error) {
	ctx, span := observability.NewSpan(ctx, "export_job")
	defer span.End()
	span.SetAttribute("entity", entity)
	span.SetAttribute("window_start", window.StartString())

	jobID, err := c.CreateExportJob(ctx, entity, version, window)
	if err != nil {
		span.RecordError(err)
		metrics.ExportJobs.WithLabelValues(entity, "failed").Inc()
		return nil, err
	}
	span.SetAttribute("job_id", jobID)

	resultURL, err := c.PollExportJob(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		metrics.ExportJobs.WithLabelValues(entity, "failed").Inc()
		return nil, err
	}

	records, err := c.DownloadExportResult(ctx, resultURL)
	if err != nil {
		span.RecordError(err)
		metrics.ExportJobs.WithLabelValues(entity, "failed").Inc()
		return nil, err
	}

	span.SetAttribute("records", len(records))
	metrics.ExportJobs.WithLabelValues(entity, "succeeded").Inc()
	return records, nil
}

// CreateExportJob submits an export job for the window and returns the
// job ID.
func (c *Client) CreateExportJob(ctx context.Context, entity, version string, window Window) (string, error) {
	payload := map[string]string{
		"entityName": entity,
		"version":    version,
		"startDate":  window.StartString(),
		"endDate":    window.EndString(),
	}

	data, err := c.Request(ctx, http.MethodPost, "jobs",
		WithExtractionBase(),
		WithBody(payload),
		WithRetryCondition(exportRetryCondition))
	if err != nil {
		return "", err
	}

	jobID, _ := data["jobId"].(string)
	if jobID == "" {
		return "", errors.New(errors.ErrorTypeJobFailure, "export job create response missing jobId")
	}

	logger.Info("created export job",
		zap.String("entity", entity),
		zap.String("job_id", jobID),
		zap.String("start", window.StartString()),
		zap.String("end", window.EndString()))
	return jobID, nil
}

// PollExportJob polls the job until it succeeds, ends in a terminal
// failure state, or the poll timeout elapses. On success it returns the
// pre-signed result URL.
func (c *Client) PollExportJob(ctx context.Context, jobID string) (string, error) {
	deadline := c.now().Add(c.pollTimeout)

	for {
		if !c.now().Before(deadline) {
			return "", errors.Newf(errors.ErrorTypeJobTimeout,
				"export job %s did not finish within %s", jobID, c.pollTimeout)
		}

		data, err := c.Request(ctx, http.MethodGet, "jobs/"+jobID,
			WithExtractionBase(),
			WithRetryCondition(exportRetryCondition))
		if err != nil {
			return "", err
		}

		status, resultURL, err := parseJobStatus(jobID, data)
		if err != nil {
			return "", err
		}

		switch status {
		case JobStatusSucceeded:
			if resultURL == "" {
				return "", errors.Newf(errors.ErrorTypeJobFailure,
					"export job %s succeeded without a result URL", jobID)
			}
			return resultURL, nil
		case JobStatusFailed, JobStatusCancelled, JobStatusExpired:
			return "", errors.Newf(errors.ErrorTypeJobFailure,
				"export job %s ended in state %s", jobID, status)
		}

		// RUNNING, or any state we do not recognize: keep polling
		// until the deadline decides.
		logger.Debug("export job still running",
			zap.String("job_id", jobID),
			zap.String("status", status))

		timer := time.NewTimer(c.pollDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", errors.Wrap(ctx.Err(), errors.ErrorTypeJobFailure, "export job polling cancelled")
		case <-timer.C:
		}
	}
}

func parseJobStatus(jobID string, data map[string]interface{}) (status, resultURL string, err error) {
	js, ok := data["jobStatus"].(map[string]interface{})
	if !ok {
		return "", "", errors.Newf(errors.ErrorTypeJobFailure,
			"export job %s status response missing jobStatus", jobID)
	}

	status, ok = js["status"].(string)
	if !ok || status == "" {
		return "", "", errors.Newf(errors.ErrorTypeJobFailure,
			"export job %s status response missing status", jobID)
	}

	if result, ok := js["result"].(map[string]interface{}); ok {
		resultURL, _ = result["url"].(string)
	}
	return status, resultURL, nil
}

// DownloadExportResult fetches the pre-signed result URL and decodes
// the CSV body into records. The URL embeds its own authorization, so
// no bearer token is attached.
func (c *Client) DownloadExportResult(ctx context.Context, resultURL string) ([]map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeClient, "failed to build download request")
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeServer, "connection failure downloading export result")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.ErrorTypeServer,
			"export result download returned status %d", resp.StatusCode)
	}

	return decodeCSVRecords(resp.Body)
}

// decodeCSVRecords streams a CSV body into records keyed by the
// camelCased header names.
func decodeCSVRecords(r io.Reader) ([]map[string]interface{}, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeJobFailure, "export result is not valid CSV")
	}

	keys := make([]string, len(header))
	for i, h := range header {
		keys[i] = transform.NormalizeHeader(h)
	}

	var records []map[string]interface{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeJobFailure, "export result is not valid CSV")
		}

		rec := make(map[string]interface{}, len(keys))
		for i, v := range row {
			if i < len(keys) {
				rec[keys[i]] = v
			}
		}
		records = append(records, rec)
	}
	return records, nil
}
