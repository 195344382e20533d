package ai

import (
	"fmt"
	"strings"
	"time"

	"voltify/internal/model"
)

// BuildRecommendPrompt 构造分类与耗时预估的固定提示词。
func BuildRecommendPrompt(description string) string {
	return fmt.Sprintf("Categorize and estimate time for the following task: '%s'", description)
}

// BuildDigestPrompt 构造开放任务摘要的提示词。
//
// 分组、加粗、7 天内到期标记等格式要求全部通过指令下发给模型，
// 本层只负责拼装任务清单。缺标题或缺截止日期的任务跳过。
func BuildDigestPrompt(now time.Time, tasks []model.Task) string {
	lines := make([]string, 0, len(tasks))
	for _, t := range tasks {
		title := strings.TrimSpace(t.Title)
		due := strings.TrimSpace(t.DueDate)
		if title == "" || due == "" {
			continue
		}
		category := strings.TrimSpace(t.Category)
		if category == "" {
			category = "No Category"
		}
		desc := strings.TrimSpace(t.Description)
		lines = append(lines, fmt.Sprintf("- Title: %s | Category: %s | Due: %s | Description: %s", title, category, due, desc))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Today is %s.\n", now.Format(model.DueDateLayout))
	b.WriteString("Summarize the following tasks in markdown.\n")
	b.WriteString("- Group by category (use 'General' if missing)\n")
	b.WriteString("- For each task, include: title (bold), due date, description, and estimated time\n")
	b.WriteString("- Mark tasks due in the next 7 days as '**Due Soon**'\n")
	b.WriteString("- No greetings or extra commentary\n\n")
	b.WriteString("Tasks:\n")
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}
