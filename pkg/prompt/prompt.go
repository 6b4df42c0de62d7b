// Package prompt renders the instruction and per-student messages sent to the model.
package prompt

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/xhad/quizpack/internal/models"
)

type templateSet struct {
	system string
	user   string
}

var templateSets = map[string]templateSet{
	"fa": {
		system: `وظیفه ی تو طراحی سوالات متناسب سطح دانش آموز با توجه به اطلاعات وارد شده از او توسط معلم است.
درس مد نظر برای طراحی سوالات: {{.Subject}}
عنوان مبحث مورد نظر برای طراحی سوالات: {{.Topic}}
معلم میانگین نمرات امتحان دانش آموز و توضیحاتی در مورد خصوصیات دانش آموز را برای تو ارسال می کند. سپس تو باید سوالاتی مختص دانش آموز با توجه به سطح او مطرح کنی.
تعداد سوالی که برای دانش آموز باید طرح کنی: {{.QuestionsPerStudent}}
ابتدا سطح دانش آموز را مشخص کن و توضیح مختصری در مورد اینکه چطور وضعیت خود را بهبود دهد، بنویس. سپس سوالات را مورد به مورد ارائه بده و سطح هر سوال که طرح می کنی را در سه سطح دشوار، متوسط یا آسان مشخص کن.
پس از طراحی سوالات، در پایان نیز پاسخ هر کدام از سوالات را با توضیحات صمیمانه و با لحنی طنز، برای دانش آموز به صورتی که دانش آموز کاملا متوجه درس شود بنویس.

خروجی حتماً با استفاده از تگ های html که بایستی در تگ body قرار بگیرند نوشته شود.
خروجی مستقیماً در صفحه ی وب نمایش داده می شود، پس از تگ های اچ تی ام ال برای فرمول ها و سایر قسمت ها استفاده کن.

خروجی خطاب به دانش آموز نوشته شود.
{{if .AuthoringNotes}}
سایر توضیحات در مورد طرح سوال که باید مد نظر باشد : {{.AuthoringNotes}}
{{end}}`,
		user: `نام دانش آموز: {{.FullName}}
میانگین نمره ی دانش آموز از 20 نمره: {{score .AverageScore}}
توضیحات در مورد عملکرد و ویژگی های دانش آموز: {{.Notes}}
`,
	},
	"en": {
		system: `Your job is to write practice questions matched to one student's level, based on what their teacher tells you.
Subject: {{.Subject}}
Topic: {{.Topic}}
The teacher sends the student's average exam score and notes about the student. Write questions tailored to that student's level.
Number of questions to write: {{.QuestionsPerStudent}}
First state the student's level and briefly explain how they can improve. Then present the questions one by one and tag each as hard, medium or easy.
After the questions, write the answer to each one with a friendly, humorous explanation so the student fully understands the lesson.

The output must be HTML tags that go inside the body tag.
The output is shown directly on a web page, so use HTML tags for formulas and every other part.

Address the output to the student.
{{if .AuthoringNotes}}
Further guidance on writing the questions: {{.AuthoringNotes}}
{{end}}`,
		user: `Student name: {{.FullName}}
Average score out of 20: {{score .AverageScore}}
Notes on the student's performance and traits: {{.Notes}}
`,
	},
}

// Builder holds the parsed templates for one language.
type Builder struct {
	lang   string
	system *template.Template
	user   *template.Template
}

func NewBuilder(lang string) (*Builder, error) {
	if lang == "" {
		lang = "fa"
	}
	set, ok := templateSets[lang]
	if !ok {
		return nil, fmt.Errorf("prompt: unsupported language %q", lang)
	}

	funcs := template.FuncMap{"score": formatScore}

	system, err := template.New("system").Funcs(funcs).Parse(set.system)
	if err != nil {
		return nil, fmt.Errorf("prompt: parse system template: %w", err)
	}
	user, err := template.New("user").Funcs(funcs).Parse(set.user)
	if err != nil {
		return nil, fmt.Errorf("prompt: parse user template: %w", err)
	}

	return &Builder{lang: lang, system: system, user: user}, nil
}

func (b *Builder) Lang() string {
	return b.lang
}

// System renders the instruction message for a run's configuration.
func (b *Builder) System(cfg models.Configuration) (string, error) {
	var sb strings.Builder
	if err := b.system.Execute(&sb, cfg); err != nil {
		return "", fmt.Errorf("prompt: render system message: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}

// User renders the data message for one student.
func (b *Builder) User(s models.StudentRecord) (string, error) {
	var sb strings.Builder
	if err := b.user.Execute(&sb, s); err != nil {
		return "", fmt.Errorf("prompt: render user message: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
