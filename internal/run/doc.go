// Package run 管理一次流执行的完整生命周期：创建运行记录、入队、
// 由处理器工作协程认领并通过启动器执行流、落盘结果与失败信息。
// 存储与队列均提供内存实现和真实后端实现（MySQL、Redis、RabbitMQ），
// 由配置在启动时选择。
package run
