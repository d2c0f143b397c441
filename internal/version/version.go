package version

import "fmt"

// Значения подставляются при сборке:
//
//	-ldflags "-X github.com/vladislavdragonenkov/fulfillment/internal/version.version=v1.2.0"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// String — версия, коммит и дата сборки одной строкой для логов.
func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// UserAgent формирует заголовок User-Agent для исходящих запросов компонента.
func UserAgent(component string) string {
	if component == "" {
		component = "fulfillment"
	}
	return component + "/" + version
}
