package views

import (
	"embed"
	"net/http"

	"github.com/gofiber/template/html/v2"
	"github.com/nicksnyder/go-i18n/v2/i18n"

	"svcpanel/utils"
)

//go:embed layouts/*.html *.html
var files embed.FS

// NewEngine returns the template engine over the embedded views.
// Templates translate with {{t .L "message_id"}}.
func NewEngine() *html.Engine {
	engine := html.NewFileSystem(http.FS(files), ".html")

	engine.AddFunc("t", func(localizer *i18n.Localizer, messageID string) string {
		return utils.T(localizer, messageID)
	})

	return engine
}
