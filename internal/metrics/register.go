package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Повторная регистрация (второй экземпляр сервиса в тестах, повторный Run)
// возвращает уже существующий коллектор вместо паники.

func registerCollector[T prometheus.Collector](registerer prometheus.Registerer, name string, collector T) T {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if err := registerer.Register(collector); err != nil {
		var alreadyRegistered prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegistered) {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", name))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector %q: %v", name, err))
	}
	return collector
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	return registerCollector[prometheus.Counter](registerer, opts.Name, prometheus.NewCounter(opts))
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	return registerCollector(registerer, opts.Name, prometheus.NewCounterVec(opts, labels))
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	return registerCollector[prometheus.Gauge](registerer, opts.Name, prometheus.NewGauge(opts))
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	return registerCollector(registerer, opts.Name, prometheus.NewHistogramVec(opts, labels))
}
