package extract

import "strings"

// technologies maps a lowercase spelling to its canonical name.
var technologies = map[string]string{
	"javascript": "JavaScript", "typescript": "TypeScript", "python": "Python",
	"golang": "Go", "rust": "Rust", "java": "Java", "kotlin": "Kotlin",
	"swift": "Swift", "ruby": "Ruby", "php": "PHP", "c++": "C++", "c#": "C#",
	"react": "React", "vue": "Vue", "angular": "Angular", "svelte": "Svelte",
	"next.js": "Next.js", "node.js": "Node.js", "nodejs": "Node.js", "deno": "Deno",
	"express": "Express", "django": "Django", "flask": "Flask", "fastapi": "FastAPI",
	"rails": "Rails", "spring": "Spring", "laravel": "Laravel",
	"docker": "Docker", "kubernetes": "Kubernetes", "k8s": "Kubernetes",
	"terraform": "Terraform", "ansible": "Ansible",
	"aws": "AWS", "gcp": "GCP", "azure": "Azure",
	"postgres": "PostgreSQL", "postgresql": "PostgreSQL", "mysql": "MySQL",
	"sqlite": "SQLite", "mongodb": "MongoDB", "redis": "Redis",
	"kafka": "Kafka", "rabbitmq": "RabbitMQ", "elasticsearch": "Elasticsearch",
	"graphql": "GraphQL", "grpc": "gRPC", "rest": "REST", "websocket": "WebSocket",
	"webpack": "Webpack", "vite": "Vite", "tailwind": "Tailwind",
	"git": "Git", "github": "GitHub", "linux": "Linux",
	"tensorflow": "TensorFlow", "pytorch": "PyTorch",
	"indexeddb": "IndexedDB", "json": "JSON", "yaml": "YAML", "html": "HTML", "css": "CSS",
}

// stopwords are capitalized words that carry no topic signal.
var stopwords = toSet(
	"the", "this", "that", "these", "those", "there", "then", "than", "they", "their",
	"what", "when", "where", "which", "while", "who", "why", "how", "here",
	"and", "but", "for", "not", "yes", "yet", "also", "just", "only", "very",
	"can", "could", "should", "would", "will", "shall", "may", "might", "must",
	"you", "your", "our", "we", "she", "he", "it", "its", "his", "her", "him",
	"if", "in", "is", "it's", "on", "of", "or", "to", "so", "as", "at", "an", "be", "by", "do",
	"my", "me", "no", "up", "us", "all", "any", "some", "each", "every", "both",
	"let", "lets", "now", "please", "thanks", "thank", "sure", "okay", "ok", "hello", "hi",
	"first", "next", "finally", "however", "because", "since", "although", "after", "before",
	"with", "without", "from", "into", "about", "over", "under", "again",
	"i", "im", "ive", "id", "great", "good", "well", "note", "example", "step",
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
	"january", "february", "march", "april", "june", "july", "august",
	"september", "october", "november", "december",
)

func toSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// techTerms returns canonical technology names mentioned in text, in order of
// first mention.
func techTerms(text string) []string {
	var out []string
	for _, f := range strings.Fields(text) {
		w := strings.ToLower(strings.Trim(f, techTrim))
		w = strings.TrimRight(w, ".")
		if name, ok := technologies[w]; ok {
			out = append(out, name)
		}
	}
	return out
}

const techTrim = `,;:!?()[]{}<>"'*`
