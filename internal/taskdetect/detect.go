// Package taskdetect classifies a user story into one of fourteen task
// types by keyword scoring over the story text. The winning type drives
// model selection in the capability matrix.
package taskdetect

import (
	"regexp"
	"strings"
	"sync"

	"github.com/harrison/ralph-ultra/internal/models"
)

// typeOrder is the tie-break precedence: earlier wins on equal score.
var typeOrder = []models.TaskType{
	models.TaskComplexIntegration,
	models.TaskMathematical,
	models.TaskBackendAPI,
	models.TaskBackendLogic,
	models.TaskFrontendUI,
	models.TaskFrontendLogic,
	models.TaskDatabase,
	models.TaskTesting,
	models.TaskDocumentation,
	models.TaskRefactoring,
	models.TaskBugfix,
	models.TaskDevOps,
	models.TaskConfig,
}

// keywords is the classification taxonomy. Matches are word-boundary
// occurrences; hits in the title weigh 3x, elsewhere 1x.
var keywords = map[models.TaskType][]string{
	models.TaskComplexIntegration: {
		"integration", "integrate", "orchestrate", "orchestration",
		"pipeline", "workflow", "webhook", "end-to-end", "sync",
		"synchronize", "third-party",
	},
	models.TaskMathematical: {
		"math", "mathematical", "algorithm", "calculation", "calculate",
		"compute", "formula", "statistics", "statistical", "probability",
		"matrix", "optimization",
	},
	models.TaskBackendAPI: {
		"api", "endpoint", "rest", "graphql", "route", "controller",
		"http", "grpc", "request", "response", "middleware",
	},
	models.TaskBackendLogic: {
		"service", "backend", "server", "handler", "queue", "worker",
		"job", "scheduler", "processing", "domain",
	},
	models.TaskFrontendUI: {
		"ui", "button", "layout", "css", "style", "styling", "component",
		"page", "screen", "modal", "responsive", "theme", "render",
	},
	models.TaskFrontendLogic: {
		"frontend", "react", "vue", "state", "form", "client", "hook",
		"browser", "dom",
	},
	models.TaskDatabase: {
		"database", "db", "schema", "migration", "sql", "query", "table",
		"index", "postgres", "sqlite", "transaction",
	},
	models.TaskTesting: {
		"test", "tests", "testing", "coverage", "unit", "e2e",
		"assert", "assertion", "mock", "fixture",
	},
	models.TaskDocumentation: {
		"document", "documentation", "docs", "readme", "comment",
		"guide", "changelog", "tutorial",
	},
	models.TaskRefactoring: {
		"refactor", "refactoring", "simplify", "cleanup", "restructure",
		"rename", "extract", "decouple", "deduplicate",
	},
	models.TaskBugfix: {
		"bug", "fix", "bugfix", "crash", "error", "broken", "regression",
		"issue", "defect", "repair",
	},
	models.TaskDevOps: {
		"deploy", "deployment", "docker", "ci", "cd", "kubernetes",
		"infrastructure", "terraform", "release", "container",
	},
	models.TaskConfig: {
		"config", "configuration", "settings", "option", "flag",
		"environment", "toml", "yaml",
	},
}

var (
	patternOnce sync.Once
	patterns    map[string]*regexp.Regexp
)

// compilePatterns builds one word-boundary regexp per keyword.
func compilePatterns() {
	patterns = make(map[string]*regexp.Regexp)
	for _, list := range keywords {
		for _, kw := range list {
			if _, ok := patterns[kw]; ok {
				continue
			}
			patterns[kw] = regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
		}
	}
}

// Detect classifies a story. The corpus is the lowercased concatenation of
// title, description, and acceptance criteria text; the title is scored
// separately at triple weight. A zero maximum yields unknown.
func Detect(story *models.UserStory) models.TaskType {
	patternOnce.Do(compilePatterns)

	title := strings.ToLower(story.Title)
	var rest strings.Builder
	rest.WriteString(strings.ToLower(story.Description))
	for _, text := range story.CriteriaText() {
		rest.WriteString("\n")
		rest.WriteString(strings.ToLower(text))
	}
	body := rest.String()

	best := models.TaskUnknown
	bestScore := 0
	for _, taskType := range typeOrder {
		score := 0
		for _, kw := range keywords[taskType] {
			re := patterns[kw]
			score += 3 * len(re.FindAllStringIndex(title, -1))
			score += len(re.FindAllStringIndex(body, -1))
		}
		if score > bestScore {
			bestScore = score
			best = taskType
		}
	}

	return best
}
