package prometheus

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/sportsai/authcore"
	"github.com/sportsai/authcore/metrics/export/internaldefs"
	"github.com/sportsai/authcore/secrets"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// rotationSource is implemented by sources that can report the signing
// secret in use. The engine does.
type rotationSource interface {
	RotationStatus(ctx context.Context) (secrets.Status, error)
}

// Exporter serves engine counters, the login latency histogram and the
// signing secret state as Prometheus text.
type Exporter struct {
	source metricsSource
}

// New returns an exporter reading from engine.
func New(engine *authcore.Engine) *Exporter {
	return &Exporter{source: engine}
}

// NewFromSource returns an exporter over any snapshot source.
func NewFromSource(source metricsSource) *Exporter {
	return &Exporter{source: source}
}

// Handler serves the exposition for each scrape.
func (e *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write([]byte(e.render(r.Context())))
	})
}

// Render returns the current exposition. It is empty when metrics are
// disabled and no audit event was dropped.
func (e *Exporter) Render() string {
	return e.render(context.Background())
}

func (e *Exporter) render(ctx context.Context) string {
	if e == nil || e.source == nil {
		return ""
	}
	snap := e.source.MetricsSnapshot()
	dropped := e.source.AuditDropped()
	if len(snap.Counters) == 0 && len(snap.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var x exposition
	x.Grow(8192)
	for _, def := range internaldefs.CounterDefs {
		x.family(def.Name, def.Help, "counter")
		x.sample(def.Name, "", snap.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		x.histogram(def.Name, def.Help, internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[def.ID])))
	}
	x.family("authcore_audit_dropped_total", "Audit events dropped on a full buffer.", "counter")
	x.sample("authcore_audit_dropped_total", "", dropped)

	if rs, ok := e.source.(rotationSource); ok {
		x.signingSecret(ctx, rs)
	}
	return x.String()
}

// exposition accumulates text format lines.
type exposition struct {
	strings.Builder
}

func (x *exposition) family(name, help, kind string) {
	x.WriteString("# HELP " + name + " " + escapeHelp(help) + "\n")
	x.WriteString("# TYPE " + name + " " + kind + "\n")
}

// sample writes one line; labels is the rendered label set without braces.
func (x *exposition) sample(name, labels string, v uint64) {
	x.WriteString(name)
	if labels != "" {
		x.WriteString("{" + labels + "}")
	}
	x.WriteString(" " + strconv.FormatUint(v, 10) + "\n")
}

func (x *exposition) histogram(name, help string, cumulative [8]uint64) {
	x.family(name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		x.sample(name+"_bucket", `le="`+le+`"`, cumulative[i])
	}
	x.sample(name+"_count", "", cumulative[len(cumulative)-1])
	// Snapshots carry no sum.
	x.sample(name+"_sum", "", 0)
}

func (x *exposition) signingSecret(ctx context.Context, rs rotationSource) {
	st, err := rs.RotationStatus(ctx)
	fallback := uint64(0)
	if err != nil || st.UsingFallback {
		fallback = 1
	}
	x.family("authcore_signing_secret_fallback", "1 while tokens are signed with the fallback secret.", "gauge")
	x.sample("authcore_signing_secret_fallback", "", fallback)
	if fallback == 1 {
		return
	}
	x.family("authcore_signing_secret_version", "Version of the active signing secret.", "gauge")
	x.sample("authcore_signing_secret_version", "", uint64(st.CurrentVersion))
	x.family("authcore_signing_secrets", "Signing secrets held in the store.", "gauge")
	x.sample("authcore_signing_secrets", "", uint64(st.TotalSecrets))
}

func escapeHelp(help string) string {
	return strings.NewReplacer(`\`, `\\`, "\n", `\n`).Replace(help)
}
