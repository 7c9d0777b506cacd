package session

import "github.com/rcrowley/go-metrics"

// throughput tracks a session's rolling download/upload byte rates, named
// in the data model as "rolling throughput counters" but left unspecified
// in mechanism — backed by go-metrics exponentially-weighted moving-average
// meters, the same primitive the store uses for its write-rate counters.
type throughput struct {
	download metrics.Meter
	upload   metrics.Meter
}

func newThroughput() throughput {
	return throughput{
		download: metrics.NewMeter(),
		upload:   metrics.NewMeter(),
	}
}

func (t throughput) markDownload(n int) { t.download.Mark(int64(n)) }
func (t throughput) markUpload(n int)   { t.upload.Mark(int64(n)) }

// DownloadRate1 returns the 1-minute moving average download rate in
// bytes/sec.
func (t throughput) DownloadRate1() float64 { return t.download.Rate1() }

// UploadRate1 returns the 1-minute moving average upload rate in
// bytes/sec.
func (t throughput) UploadRate1() float64 { return t.upload.Rate1() }
