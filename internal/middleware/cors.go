package middleware

import (
	"bufio"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

var corsMethods = []string{"GET", "POST", "PUT", "OPTIONS"}

// LoadCORS restricts cross-origin access to the origins listed in path, one
// per line. Without a list every origin is allowed and credentials are off.
func LoadCORS(path string, log *zap.Logger) func(http.Handler) http.Handler {
	origins := loadCORSOrigins(path)

	if len(origins) > 0 {
		log.Info("loaded CORS origins", zap.String("file", path), zap.Int("count", len(origins)))
		return cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   corsMethods,
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           86400,
		})
	}

	log.Warn("no CORS origin list, allowing all origins with credentials disabled", zap.String("file", path))
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   corsMethods,
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           86400,
	})
}

func loadCORSOrigins(path string) []string {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var origins []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			origins = append(origins, line)
		}
	}
	return origins
}
