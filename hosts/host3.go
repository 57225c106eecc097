package hosts

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/errors"
	"github.com/talocan/hharvest/store"
	"github.com/talocan/hharvest/sym"
)

// Analysis task types host3 understands.
const (
	TaskVacancyAnalysis    = "vacancy_analysis"
	TaskSkillExtraction    = "skill_extraction"
	TaskSalaryPrediction   = "salary_prediction"
	TaskTextClassification = "text_classification"
	TaskSummaryGeneration  = "summary_generation"
	TaskMatchingScore      = "matching_score"
)

// Host3Client sends vacancy content to the analysis service. Mock
// responses keep the envelope the real service will use: request_id,
// confidence, processing_time_ms, model_used, status.
type Host3Client struct {
	endpoint string
	model    string
	logger   *zap.SugaredLogger

	mu          sync.Mutex
	rng         *rand.Rand
	requests    int
	lastRequest float64
}

// NewHost3Client builds a client from the host config block.
func NewHost3Client(cfg config.HostConfig, logger *zap.SugaredLogger) *Host3Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	conn := cfg.Connection
	c := &Host3Client{
		endpoint: valueOr(conn, "api_endpoint", "http://localhost:8000/v1"),
		model:    valueOr(conn, "default_model", "gpt-3.5-turbo"),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:   logger,
	}

	logger.Infow(sym.Health+" Host3 client ready (mock mode)",
		"endpoint", c.endpoint, "model", c.model)
	return c
}

// Process runs one analysis task and wraps the per-task result in the
// response envelope.
func (c *Host3Client) Process(ctx context.Context, taskType string, input map[string]interface{}) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.requests++
	c.lastRequest = nowUnix()
	requestID := fmt.Sprintf("mock_%d_%s", c.requests, time.Now().Format("150405"))

	var result map[string]interface{}
	switch taskType {
	case TaskVacancyAnalysis:
		result = c.mockVacancyAnalysis(input)
	case TaskSkillExtraction:
		result = c.mockSkillExtraction()
	case TaskSalaryPrediction:
		result = c.mockSalaryPrediction()
	case TaskTextClassification:
		result = c.mockTextClassification()
	case TaskSummaryGeneration:
		result = c.mockSummaryGeneration(input)
	case TaskMatchingScore:
		result = c.mockMatchingScore()
	default:
		c.mu.Unlock()
		return nil, errors.Newf("unknown analysis task type: %s", taskType)
	}

	confidence := c.between(0.7, 0.95)
	processingMS := 500 + c.rng.Intn(1500)
	c.mu.Unlock()

	return map[string]interface{}{
		"request_id":         requestID,
		"task_type":          taskType,
		"result":             result,
		"confidence":         confidence,
		"processing_time_ms": processingMS,
		"model_used":         c.model,
		"status":             "success",
		"mock_mode":          true,
	}, nil
}

// AnalyzeVacancy runs the vacancy_analysis task over a stored row.
func (c *Host3Client) AnalyzeVacancy(ctx context.Context, v *store.Vacancy) (map[string]interface{}, error) {
	return c.Process(ctx, TaskVacancyAnalysis, map[string]interface{}{
		"hh_id":       v.HHID,
		"title":       v.Title,
		"company":     v.Company,
		"description": v.Description,
		"key_skills":  v.KeySkills,
	})
}

// ExtractSkills runs the skill_extraction task over raw text.
func (c *Host3Client) ExtractSkills(ctx context.Context, description string) (map[string]interface{}, error) {
	return c.Process(ctx, TaskSkillExtraction, map[string]interface{}{"description": description})
}

// Statistics reports request counters for the status endpoints.
func (c *Host3Client) Statistics() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	return map[string]interface{}{
		"total_requests": c.requests,
		"last_request":   c.lastRequest,
		"mock_mode":      true,
		"model":          c.model,
		"endpoint":       c.endpoint,
		"status":         "available",
	}
}

// HealthCheck reports service state in the shared health shape.
func (c *Host3Client) HealthCheck() map[string]interface{} {
	c.mu.Lock()
	requests := c.requests
	c.mu.Unlock()

	return map[string]interface{}{
		"service":            "host3_client",
		"status":             "healthy",
		"mock_mode":          true,
		"endpoint":           c.endpoint,
		"model":              c.model,
		"requests_processed": requests,
		"timestamp":          nowUnix(),
	}
}

func (c *Host3Client) mockVacancyAnalysis(input map[string]interface{}) map[string]interface{} {
	title, _ := input["title"].(string)
	if title == "" {
		title = "Unknown Position"
	}
	levels := []string{"Junior", "Middle", "Senior"}
	return map[string]interface{}{
		"analysis":              fmt.Sprintf("Position %q calls for hands-on backend experience with room to grow.", title),
		"key_requirements":      []string{"Python", "Django/Flask", "PostgreSQL", "Docker"},
		"experience_level":      levels[c.rng.Intn(len(levels))],
		"remote_work":           c.rng.Intn(2) == 0,
		"complexity_score":      c.between(0.3, 0.9),
		"market_attractiveness": c.between(0.5, 0.95),
	}
}

func (c *Host3Client) mockSkillExtraction() map[string]interface{} {
	pool := []string{
		"Python", "JavaScript", "Java", "C++", "Django", "Flask",
		"React", "Vue.js", "PostgreSQL", "MySQL", "Redis", "Docker",
		"Kubernetes", "Git", "Linux", "AWS", "Machine Learning",
	}
	n := 3 + c.rng.Intn(6)
	picked := make([]string, 0, n)
	for _, i := range c.rng.Perm(len(pool))[:n] {
		picked = append(picked, pool[i])
	}

	confidence := make(map[string]interface{}, len(picked))
	for _, skill := range picked {
		confidence[skill] = c.between(0.6, 0.95)
	}

	technical := picked
	if len(technical) > 5 {
		technical = technical[:5]
	}
	return map[string]interface{}{
		"technical_skills":    technical,
		"soft_skills":         []string{"Teamwork", "Analytical thinking", "Communication"},
		"required_experience": fmt.Sprintf("%d years", 1+c.rng.Intn(5)),
		"skill_confidence":    confidence,
	}
}

func (c *Host3Client) mockSalaryPrediction() map[string]interface{} {
	base := 80000 + c.rng.Intn(220000)
	return map[string]interface{}{
		"predicted_salary_min": base,
		"predicted_salary_max": int(float64(base) * 1.4),
		"currency":             "RUR",
		"confidence":           c.between(0.7, 0.9),
		"factors": map[string]interface{}{
			"experience":   0.4,
			"skills":       0.3,
			"location":     0.2,
			"company_size": 0.1,
		},
		"market_comparison": "above_average",
	}
}

func (c *Host3Client) mockTextClassification() map[string]interface{} {
	categories := []string{"Web Development", "Data Science", "DevOps", "Mobile", "QA"}
	scores := make(map[string]interface{}, len(categories))
	for _, cat := range categories {
		scores[cat] = c.between(0.1, 0.9)
	}
	return map[string]interface{}{
		"primary_category":     categories[c.rng.Intn(len(categories))],
		"secondary_categories": categories[:2],
		"category_scores":      scores,
		"confidence":           c.between(0.75, 0.95),
	}
}

func (c *Host3Client) mockSummaryGeneration(input map[string]interface{}) map[string]interface{} {
	title, _ := input["title"].(string)
	if title == "" {
		title = "the role"
	}
	return map[string]interface{}{
		"summary": fmt.Sprintf("An interesting opening for %s with a modern stack and competitive pay.", title),
		"highlights": []string{
			"Modern technology stack",
			"Remote work available",
			"Competitive salary",
			"Professional growth opportunities",
		},
		"word_count":        156,
		"readability_score": c.between(0.7, 0.9),
	}
}

func (c *Host3Client) mockMatchingScore() map[string]interface{} {
	recommendations := []string{"strongly_recommend", "recommend", "consider", "skip"}
	return map[string]interface{}{
		"overall_match":     c.between(0.5, 0.95),
		"skill_match":       c.between(0.6, 0.9),
		"experience_match":  c.between(0.4, 0.8),
		"location_match":    c.between(0.8, 1.0),
		"salary_match":      c.between(0.5, 0.9),
		"recommendation":    recommendations[c.rng.Intn(len(recommendations))],
		"match_explanation": "Strong overlap on technical skills and prior experience.",
	}
}

// between returns a uniform value in [low, high). Callers hold c.mu.
func (c *Host3Client) between(low, high float64) float64 {
	return low + c.rng.Float64()*(high-low)
}
