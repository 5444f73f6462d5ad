package prompts

// Template names.
const (
	Summary        = "summary"
	OverallReport  = "overall_report"
	QuestionAnswer = "question_answer"
)

// Placeholders substituted by Render.
const (
	VarText      = "text"
	VarSummaries = "summaries"
	VarQuestion  = "question"
)

var defaults = map[string]Template{
	Summary: {
		System: "你是一位专业的学术文献分析师，能够准确提取和总结文献的核心内容。",
		User: `请为以下学术文献生成一个结构化摘要，使用Markdown格式输出：
这里请给出文章标题：
1. 研究背景与目标
2. 方法论
3. 主要发现
4. 结论与意义
5. 局限性

文献内容：
{text}`,
	},
	OverallReport: {
		System: "你是一位专业的学术研究报告撰写专家，能够综合分析多篇文献并产出深度分析报告。",
		User: `基于以下多篇文献的摘要，生成一份总体报告，包括：
1. 研究主题分布
2. 共性结论
3. 方法对比
4. 待解决问题

文献摘要：
{summaries}`,
	},
	QuestionAnswer: {
		System: "你是一位专业的学术助手，能够基于文献内容准确回答用户问题。",
		User: `文献内容：
{text}

问题：
{question}`,
	},
}

// Names returns the built-in template names in a stable order.
func Names() []string {
	return []string{Summary, OverallReport, QuestionAnswer}
}

// Default returns the built-in template for name.
func Default(name string) (Template, bool) {
	t, ok := defaults[name]
	return t, ok
}
