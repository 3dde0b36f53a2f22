package stats

import "github.com/prometheus/client_golang/prometheus"
import "github.com/prometheus/client_golang/prometheus/promauto"

import "github.com/Starry-Mix-THU/starry-mix/defs"

// Stats_t holds the kernel's counters. every kernel instance registers its
// own set so that several can live in one program.
type Stats_t struct {
	// futex calls by command and result
	Futexops *prometheus.CounterVec
	// futexes marked owner-dead by exiting threads
	Robustdeaths prometheus.Counter
	// clones by kind
	Clones *prometheus.CounterVec
	// executables mapped, by kind (exec, interp)
	Elfloads *prometheus.CounterVec
	// script interpreters followed
	Interphops prometheus.Counter

	Threads prometheus.Gauge
	Futexes prometheus.Gauge
}

func New(reg prometheus.Registerer) *Stats_t {
	f := promauto.With(reg)
	return &Stats_t{
		Futexops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kernel_futex_ops_total",
			Help: "Futex operations by command and result",
		}, []string{"cmd", "result"}),
		Robustdeaths: f.NewCounter(prometheus.CounterOpts{
			Name: "kernel_robust_deaths_total",
			Help: "Futexes marked owner-dead by exiting threads",
		}),
		Clones: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kernel_clones_total",
			Help: "Threads created by clone, by kind",
		}, []string{"kind"}),
		Elfloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kernel_elf_loads_total",
			Help: "ELF images mapped into user address spaces",
		}, []string{"kind"}),
		Interphops: f.NewCounter(prometheus.CounterOpts{
			Name: "kernel_interp_hops_total",
			Help: "Script interpreters followed while loading",
		}),
		Threads: f.NewGauge(prometheus.GaugeOpts{
			Name: "kernel_threads",
			Help: "Live threads",
		}),
		Futexes: f.NewGauge(prometheus.GaugeOpts{
			Name: "kernel_futexes",
			Help: "Futexes currently allocated",
		}),
	}
}

// Discard returns counters registered nowhere.
func Discard() *Stats_t {
	return New(prometheus.NewRegistry())
}

// Futexop records the outcome of one futex call.
func (s *Stats_t) Futexop(cmd string, err defs.Err_t) {
	res := "ok"
	if err != 0 {
		res = defs.Errname(err)
	}
	s.Futexops.WithLabelValues(cmd, res).Inc()
}
