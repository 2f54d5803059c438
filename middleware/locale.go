package middleware

import (
	"github.com/gofiber/fiber/v2"
	"golang.org/x/text/language"

	"svcpanel/utils"
)

var matcher = language.NewMatcher([]language.Tag{language.English, language.Japanese})

// LocaleMiddleware picks the UI language from ?lang, the lang cookie or
// Accept-Language, in that order
func LocaleMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		lang := c.Query("lang")
		if lang == "" {
			lang = c.Cookies("lang")
		}
		if !utils.IsSupportedLanguage(lang) {
			lang = matchAcceptLanguage(c.Get(fiber.HeaderAcceptLanguage))
		}

		c.Locals("localizer", utils.GetLocalizer(lang))
		c.Locals("lang", lang)

		utils.Log.Debug("Locale detected: %s for path: %s", lang, c.Path())
		return c.Next()
	}
}

func matchAcceptLanguage(header string) string {
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return "en"
	}
	_, idx, _ := matcher.Match(tags...)
	return utils.SupportedLanguages[idx]
}
