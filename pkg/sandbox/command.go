package sandbox

import (
	"regexp"
	"strconv"
)

var (
	longPortFlag  = regexp.MustCompile(`--port[= ]+(\d+)`)
	shortPortFlag = regexp.MustCompile(`-p[= ]+(\d+)`)
	portEnvAssign = regexp.MustCompile(`PORT=(\d+)`)
)

// rewriteCommandPort replaces any literal --port <N>, -p <N>, or
// PORT=<N> in run whose N differs from port with the allocated port.
// The run command is otherwise used verbatim.
func rewriteCommandPort(run string, port int) string {
	target := strconv.Itoa(port)
	run = replacePortMatches(longPortFlag, run, target)
	run = replacePortMatches(shortPortFlag, run, target)
	run = replacePortMatches(portEnvAssign, run, target)
	return run
}

func replacePortMatches(re *regexp.Regexp, run, target string) string {
	return re.ReplaceAllStringFunc(run, func(match string) string {
		groups := re.FindStringSubmatch(match)
		if len(groups) != 2 || groups[1] == target {
			return match
		}
		loc := re.FindStringSubmatchIndex(match)
		return match[:loc[2]] + target + match[loc[3]:]
	})
}
