package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"paper-twinview/internal/logger"
	"paper-twinview/internal/pipeline"
)

//go:embed all:frontend/dist
var assets embed.FS

// Command line flags
var (
	pdfFlag   = flag.String("pdf", "", "PDF file path to open")
	pagesFlag = flag.String("pages", "", "Page range to translate, e.g. 1-5 or 3 (CLI mode)")
	fullFlag  = flag.Bool("full", false, "Translate the full document up to the page cap (CLI mode)")
	cliFlag   = flag.Bool("cli", false, "Run in CLI mode without GUI")
)

// printHelp displays command line usage.
func printHelp() {
	fmt.Println("Paper TwinView - 영어 논문 PDF를 한국어로 번역하는 양면 보기 뷰어")
	fmt.Println()
	fmt.Println("용법:")
	fmt.Println("  paper-twinview [옵션]")
	fmt.Println()
	fmt.Println("옵션:")
	fmt.Println("  --pdf <PATH>     열어볼 PDF 파일 경로")
	fmt.Println("  --pages <RANGE>  번역할 페이지 범위 (예: 1-5 또는 3, CLI 모드)")
	fmt.Println("  --full           페이지 상한까지 전체 번역 (CLI 모드)")
	fmt.Println("  --cli            GUI 없이 명령행 모드로 실행")
	fmt.Println("  -h, --help       도움말 표시")
	fmt.Println()
	fmt.Println("예시:")
	fmt.Println("  paper-twinview                              # GUI 실행")
	fmt.Println("  paper-twinview --pdf paper.pdf              # GUI 실행 후 자동 로드")
	fmt.Println("  paper-twinview --pdf paper.pdf --cli        # 첫 2페이지 번역")
	fmt.Println("  paper-twinview --pdf paper.pdf --cli --pages 3-7")
	fmt.Println("  paper-twinview --pdf paper.pdf --cli --full")
}

// parsePageRange parses "3" or "3-7" into an inclusive range.
func parsePageRange(spec string) (int, int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, 0, fmt.Errorf("empty page range")
	}
	if i := strings.IndexByte(spec, '-'); i >= 0 {
		start, err1 := strconv.Atoi(strings.TrimSpace(spec[:i]))
		end, err2 := strconv.Atoi(strings.TrimSpace(spec[i+1:]))
		if err1 != nil || err2 != nil || start < 1 || end < start {
			return 0, 0, fmt.Errorf("invalid page range %q", spec)
		}
		return start, end, nil
	}
	page, err := strconv.Atoi(spec)
	if err != nil || page < 1 {
		return 0, 0, fmt.Errorf("invalid page %q", spec)
	}
	return page, page, nil
}

func main() {
	flag.Usage = printHelp
	flag.Parse()

	// .env is optional; real config lives in the config file.
	godotenv.Load()

	if *cliFlag {
		if *pdfFlag == "" {
			fmt.Fprintln(os.Stderr, "오류: CLI 모드에는 --pdf 가 필요합니다")
			printHelp()
			os.Exit(1)
		}
		runTranslationCLI(*pdfFlag, *pagesFlag, *fullFlag)
		return
	}

	if err := logger.Init(logger.DefaultConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "로그 초기화 실패: %v\n", err)
	}
	defer logger.Close()

	app := NewApp()
	app.SetWailsRuntime(true)

	startupFunc := func(ctx context.Context) {
		app.startup(ctx)

		if *pdfFlag != "" {
			go func() {
				if _, err := app.LoadPDF(*pdfFlag); err != nil {
					runtime.EventsEmit(ctx, "load-error", err.Error())
					fmt.Fprintf(os.Stderr, "PDF 로드 실패: %v\n", err)
				}
			}()
		}
	}

	err := wails.Run(&options.App{
		Title:  "논문 번역 뷰어",
		Width:  1280,
		Height: 860,
		AssetServer: &assetserver.Options{
			Assets:  assets,
			Handler: &pageImageHandler{app: app},
		},
		BackgroundColour: &options.RGBA{R: 27, G: 38, B: 54, A: 1},
		OnStartup:        startupFunc,
		OnShutdown:       app.shutdown,
		OnBeforeClose: func(ctx context.Context) (prevent bool) {
			if !app.IsProcessing() {
				return false
			}
			result, err := runtime.MessageDialog(ctx, runtime.MessageDialogOptions{
				Type:          runtime.QuestionDialog,
				Title:         "종료 확인",
				Message:       "번역이 진행 중입니다. 종료하시겠습니까?\n종료하면 현재 작업이 취소됩니다.",
				Buttons:       []string{"취소", "종료"},
				DefaultButton: "취소",
				CancelButton:  "취소",
			})
			if err != nil {
				return false
			}
			if result == "취소" {
				return true
			}
			app.CancelProcess()
			return false
		},
		Bind: []interface{}{
			app,
		},
	})

	if err != nil {
		logger.Error("application exited with error", err)
	}
}

// pageImageHandler serves rendered page JPEGs to the embedded frontend
// at /pages/{n}.
type pageImageHandler struct {
	app *App
}

func (h *pageImageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/pages/") {
		http.NotFound(w, r)
		return
	}
	h.app.servePageImage(w, r)
}

// runTranslationCLI translates a document without the GUI.
func runTranslationCLI(pdfPath, pagesSpec string, full bool) {
	logger.Init(&logger.Config{
		LogFilePath:   "paper-twinview-cli.log",
		Level:         logger.LevelInfo,
		EnableConsole: true,
	})
	defer logger.Close()

	fmt.Println("=== 논문 번역 (CLI 모드) ===")
	fmt.Printf("입력 파일: %s\n", pdfPath)

	if _, err := os.Stat(pdfPath); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "오류: 파일이 존재하지 않습니다: %s\n", pdfPath)
		os.Exit(1)
	}

	app := NewApp()
	app.startup(context.Background())
	defer app.shutdown(context.Background())

	if app.config != nil {
		fmt.Printf("API Base URL: %s\n", app.config.GetBaseURL())
		fmt.Printf("Model: %s\n", app.config.GetModel())
		fmt.Printf("Tone: %s\n", app.config.GetTone())
	}

	fmt.Println("PDF 확인 중...")
	info, err := app.LoadPDF(pdfPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "오류: PDF 로드 실패: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("문서 정보: %d 페이지, %d 바이트\n", info.PageCount, info.FileSize)

	done := make(chan bool)
	go func() {
		ticker := time.NewTicker(3 * time.Second)
		defer ticker.Stop()
		lastProgress := -1
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				status := app.GetStatus()
				if status.Progress != lastProgress {
					fmt.Printf("  [%d%%] %s: %s\n", status.Progress, status.Phase, status.Message)
					lastProgress = status.Progress
				}
			}
		}
	}()

	fmt.Println("번역 중...")
	switch {
	case full:
		err = app.TranslateFullDocument()
	case pagesSpec != "":
		var start, end int
		start, end, err = parsePageRange(pagesSpec)
		if err == nil {
			err = app.TranslatePageRange(start, end)
		}
	default:
		err = app.TranslateFirstBatch()
	}
	close(done)

	if err != nil {
		if err == pipeline.ErrNoPagesInRange {
			fmt.Fprintln(os.Stderr, "오류: 요청한 페이지가 문서 범위를 벗어났습니다")
		} else {
			fmt.Fprintf(os.Stderr, "오류: 번역 실패: %v\n", err)
		}
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("=== 번역 완료 ===")
	if meta := app.GetMetadata(); meta != nil {
		fmt.Printf("제목: %s\n", meta.Title)
		if len(meta.Authors) > 0 {
			fmt.Printf("저자: %s\n", strings.Join(meta.Authors, ", "))
		}
	}
	fmt.Printf("처리 범위: %s\n", app.GetActiveRange())

	for _, group := range app.GetPageGroups() {
		fmt.Printf("\n--- %d페이지 (%d개 블록) ---\n", group.PageIndex, len(group.Segments))
		for _, seg := range group.Segments {
			fmt.Printf("[%s] %s\n", seg.Type, seg.Translated)
		}
	}
}
