package document

import (
	"html/template"
	"strings"
)

const mathJaxURL = "https://cdn.jsdelivr.net/npm/mathjax@3/es5/tex-mml-chtml.js"

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}" dir="rtl">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <script type="text/javascript" async
        src="{{.MathJax}}">
    </script>
    <style>
        body { font-family: B Nazanin, sans-serif; line-height: 1.6; }
        h1, h2, h3, h4, h5, h6 { font-weight: bold; }
        ul, ol { margin: 0; padding: 0 1.5em; }
        p { margin: 0.5em 0; }
        .math { text-align: center; }
    </style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

var defaultTitles = map[string]string{
	"fa": "سوالات شخصی‌سازی شده",
	"en": "Personalized Questions",
}

type page struct {
	Lang    string
	Title   string
	MathJax string
	Body    template.HTML
}

// Render wraps body in the page template. body is embedded as given.
func Render(lang, title, body string) (string, error) {
	if lang == "" {
		lang = "fa"
	}
	if title == "" {
		title = defaultTitles[lang]
	}

	var sb strings.Builder
	err := pageTemplate.Execute(&sb, page{
		Lang:    lang,
		Title:   title,
		MathJax: mathJaxURL,
		Body:    template.HTML(body),
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}
